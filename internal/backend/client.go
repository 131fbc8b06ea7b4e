// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

const (
	pathGenerateStoryboard = "/generate-storyboard"
	pathRegenerateScene    = "/regenerate-scene"
	pathRegenerateShot     = "/regenerate-shot"
	pathAddShot            = "/add-shot"

	// placeholder the backend returns when image generation failed
	imageNotGenerated = "Image not generated"

	defaultShotDescription = "New action shot"
	maxErrorBodyBytes      = 4 << 10
)

// Operation names used for metrics and logs
const (
	OpGenerateStoryboard = "generate_storyboard"
	OpRegenerateScene    = "regenerate_scene"
	OpRegenerateShot     = "regenerate_shot"
	OpAddShot            = "add_shot"
)

// Config captures the settings required to reach the generation backend.
type Config struct {
	BaseURL string
}

// Client issues the four generation backend operations. It never retries and
// enforces no timeout of its own; callers bound calls through ctx.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *utils.EditorMetrics
	now        func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics routes request metrics to m.
func WithMetrics(m *utils.EditorMetrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient constructs a backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg:        Config{BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")},
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "http://127.0.0.1:5000"
	}
	if client.metrics == nil {
		client.metrics = utils.NewEditorMetrics(nil, nil)
	}
	return client
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// RequestStoryboard asks the backend for a complete storyboard.
func (c *Client) RequestStoryboard(ctx context.Context, req models.GenerateStoryboardRequest) (*models.Storyboard, error) {
	var payload struct {
		Storyboard *[]json.RawMessage `json:"storyboard"`
	}
	if err := c.post(ctx, OpGenerateStoryboard, pathGenerateStoryboard, req, &payload); err != nil {
		return nil, err
	}
	if payload.Storyboard == nil {
		return nil, c.fail(OpGenerateStoryboard, apperrors.NewInvalidPayload("response has no storyboard array", nil))
	}

	board := &models.Storyboard{Scenes: make([]models.Scene, 0, len(*payload.Storyboard))}
	for i, raw := range *payload.Storyboard {
		scene, err := decodeScene(raw)
		if err != nil {
			return nil, c.fail(OpGenerateStoryboard, apperrors.NewInvalidPayload(fmt.Sprintf("scene %d is malformed", i), err))
		}
		board.Scenes = append(board.Scenes, *scene)
	}
	return board, nil
}

// RequestSceneRegeneration asks the backend to regenerate every shot of scene.
func (c *Client) RequestSceneRegeneration(ctx context.Context, scene models.Scene, style, character string) (*models.Scene, error) {
	req := models.RegenerateSceneRequest{Scene: scene, Style: style, Character: character}

	var raw json.RawMessage
	if err := c.post(ctx, OpRegenerateScene, pathRegenerateScene, req, &raw); err != nil {
		return nil, err
	}
	regenerated, err := decodeScene(raw)
	if err != nil {
		return nil, c.fail(OpRegenerateScene, apperrors.NewInvalidPayload("regenerated scene is malformed", err))
	}
	return regenerated, nil
}

// RequestShotRegeneration asks the backend for a new image of shot.
func (c *Client) RequestShotRegeneration(ctx context.Context, shot models.Shot, style, character string) (*models.Shot, error) {
	req := models.RegenerateShotRequest{Shot: shot, Style: style, Character: character}

	var raw json.RawMessage
	if err := c.post(ctx, OpRegenerateShot, pathRegenerateShot, req, &raw); err != nil {
		return nil, err
	}
	regenerated, err := decodeShot(raw)
	if err != nil {
		return nil, c.fail(OpRegenerateShot, apperrors.NewInvalidPayload("regenerated shot is malformed", err))
	}
	return regenerated, nil
}

// RequestShotInsertion asks the backend for a new shot following afterShot.
// The new frame number is afterShot's plus one.
func (c *Client) RequestShotInsertion(ctx context.Context, afterShot models.Shot, description, style, character, camera string) (*models.Shot, error) {
	if strings.TrimSpace(description) == "" {
		description = defaultShotDescription
	}
	req := NewAddShotRequest(afterShot, description, style, character, camera)

	var raw json.RawMessage
	if err := c.post(ctx, OpAddShot, pathAddShot, req, &raw); err != nil {
		return nil, err
	}
	inserted, err := decodeShot(raw)
	if err != nil {
		return nil, c.fail(OpAddShot, apperrors.NewInvalidPayload("inserted shot is malformed", err))
	}
	return inserted, nil
}

// NewAddShotRequest builds the add-shot body for a shot placed after afterShot
func NewAddShotRequest(afterShot models.Shot, description, style, character, camera string) models.AddShotRequest {
	return models.AddShotRequest{
		Description: description,
		FrameNumber: afterShot.FrameNumber + 1,
		Style:       style,
		Character:   character,
		Camera:      camera,
	}
}

// post sends body as JSON and decodes a 2xx answer into out
func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	start := c.now()
	err := c.roundTrip(ctx, path, body, out)
	c.metrics.RecordBackendRequest(op, c.now().Sub(start), err)
	if err != nil {
		c.metrics.RecordBackendFailure(string(apperrors.TypeOf(err)))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewValidationError("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return apperrors.NewValidationError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewCanceledError("request abandoned", ctx.Err())
		}
		return apperrors.NewNetworkFailure("backend unreachable", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes))
		return apperrors.NewBackendRejected(
			fmt.Sprintf("backend answered %d", httpResp.StatusCode),
			fmt.Errorf("%s", backendErrorMessage(snippet)),
		)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return apperrors.NewNetworkFailure("read response body", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewInvalidPayload("response is not valid JSON", err)
	}
	return nil
}

func (c *Client) fail(op string, err *apperrors.AppError) error {
	c.metrics.RecordBackendFailure(string(err.Type))
	return err
}

// backendErrorMessage extracts {"error": "..."} when present
func backendErrorMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response body"
	}
	return text
}

func decodeScene(raw json.RawMessage) (*models.Scene, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("scene is null")
	}
	var scene models.Scene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return nil, err
	}
	if scene.Shots == nil {
		scene.Shots = legacyShots(raw, scene)
	}
	for i := range scene.Shots {
		normalizeShot(&scene.Shots[i])
	}
	return &scene, nil
}

// legacyShots converts the single-image scene shape {scene, description,
// image_url} into one shot. A scene without shots or image has no shots.
func legacyShots(raw json.RawMessage, scene models.Scene) []models.Shot {
	var legacy struct {
		ImageURL *string `json:"image_url"`
	}
	if json.Unmarshal(raw, &legacy) != nil || legacy.ImageURL == nil {
		return []models.Shot{}
	}
	return []models.Shot{{
		FrameNumber: 1,
		ImageURL:    *legacy.ImageURL,
		Description: scene.NarrativeText(),
	}}
}

func decodeShot(raw json.RawMessage) (*models.Shot, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("shot is null")
	}
	var shot models.Shot
	if err := json.Unmarshal(raw, &shot); err != nil {
		return nil, err
	}
	normalizeShot(&shot)
	return &shot, nil
}

func normalizeShot(shot *models.Shot) {
	if strings.TrimSpace(shot.ImageURL) == imageNotGenerated {
		shot.ImageURL = ""
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
