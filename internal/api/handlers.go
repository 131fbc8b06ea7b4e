// internal/api/handlers.go
package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardStudio/internal/auth"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/utils"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

// Handler serves the editor API
type Handler struct {
	sessions  *services.SessionService
	tokens    *auth.TokenConfig
	metrics   *utils.EditorMetrics
	ws        *WebSocketManager
	response  *ResponseHelper
	logger    *utils.Logger
	startedAt time.Time
}

// NewHandler creates the API handler
func NewHandler(
	sessions *services.SessionService,
	tokens *auth.TokenConfig,
	metrics *utils.EditorMetrics,
	ws *WebSocketManager,
	logger *utils.Logger,
) *Handler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewEditorMetrics(nil, logger)
	}
	if ws == nil {
		ws = NewWebSocketManager(logger)
		ws.Start()
	}
	return &Handler{
		sessions:  sessions,
		tokens:    tokens,
		metrics:   metrics,
		ws:        ws,
		response:  NewResponseHelper(),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// SessionCreated is returned by CreateSession
type SessionCreated struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in,omitempty"` // seconds
}

// StoryboardState is the read model of a session
type StoryboardState struct {
	Epoch      uint64                `json:"epoch"`
	Generation uint64                `json:"generation"`
	Settings   models.PromptSettings `json:"settings"`
	Storyboard models.Storyboard     `json:"storyboard"`
	View       view.RenderTree       `json:"view"`
}

// FieldEdit is the body of the PATCH routes
type FieldEdit struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

// Deleted reports whether a delete removed anything
type Deleted struct {
	Deleted bool            `json:"deleted"`
	View    view.RenderTree `json:"view"`
}

// CreateSession opens an editor session and issues its token
func (h *Handler) CreateSession(c *gin.Context) {
	session := h.sessions.Create()

	token, err := auth.GenerateToken(session.ID, h.tokens)
	if err != nil {
		h.sessions.Remove(session.ID)
		h.response.InternalError(c, "failed to issue session token", err.Error())
		return
	}

	h.response.Created(c, SessionCreated{
		SessionID: session.ID,
		Token:     token,
		ExpiresIn: int64(h.tokens.Expiration / time.Second),
	}, "session created")
}

// CloseSession ends the current session
func (h *Handler) CloseSession(c *gin.Context) {
	session := currentSession(c)
	h.ws.CloseSession(session.ID)
	h.sessions.Remove(session.ID)
	h.response.Success(c, gin.H{"session_id": session.ID}, "session closed")
}

// GetStoryboard returns the current storyboard with its rendered view.
// ?format=text renders the view as plain text instead.
func (h *Handler) GetStoryboard(c *gin.Context) {
	session := currentSession(c)

	if c.Query("format") == "text" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
		if err := view.RenderText(c.Writer, session.Projector().Current(), view.TextOptions{}); err != nil {
			h.logger.Warn("Failed to render storyboard text", map[string]interface{}{
				"session_id": session.ID,
				"error":      err.Error(),
			})
		}
		return
	}

	h.response.Success(c, h.state(session))
}

// GenerateStoryboard requests a new storyboard and replaces the current one
func (h *Handler) GenerateStoryboard(c *gin.Context) {
	session := currentSession(c)

	var settings models.PromptSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.response.BadRequest(c, "invalid generation request", err.Error())
		return
	}

	if err := session.Generate(c.Request.Context(), settings); err != nil {
		h.response.AppError(c, err)
		return
	}
	h.response.Success(c, h.state(session), "storyboard generated")
}

// GetSettings returns the prompt settings reused by follow-up requests
func (h *Handler) GetSettings(c *gin.Context) {
	h.response.Success(c, currentSession(c).Settings())
}

// UpdateSettings replaces the prompt settings without regenerating
func (h *Handler) UpdateSettings(c *gin.Context) {
	session := currentSession(c)

	var settings models.PromptSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.response.BadRequest(c, "invalid settings", err.Error())
		return
	}
	session.UpdateSettings(settings)
	h.response.Success(c, settings, "settings updated")
}

// EditScene writes one scene field
func (h *Handler) EditScene(c *gin.Context) {
	session := currentSession(c)

	var edit FieldEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		h.response.BadRequest(c, "invalid field edit", err.Error())
		return
	}

	err := session.Store().EditSceneFieldByID(c.Param("scene"), models.SceneField(edit.Field), edit.Value)
	if err != nil {
		h.response.AppError(c, err)
		return
	}
	h.response.Success(c, session.Projector().Current())
}

// DeleteScene removes a scene. Deleting a missing scene is not an error.
func (h *Handler) DeleteScene(c *gin.Context) {
	session := currentSession(c)
	deleted := session.DeleteScene(c.Param("scene"))
	h.response.Success(c, Deleted{Deleted: deleted, View: session.Projector().Current()})
}

// RegenerateScene starts a scene regeneration
func (h *Handler) RegenerateScene(c *gin.Context) {
	session := currentSession(c)
	task, err := session.RegenerateSceneByID(c.Param("scene"))
	h.respondTask(c, task, err)
}

// EditShot writes one shot field
func (h *Handler) EditShot(c *gin.Context) {
	session := currentSession(c)

	var edit FieldEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		h.response.BadRequest(c, "invalid field edit", err.Error())
		return
	}

	err := session.Store().EditShotFieldByID(c.Param("scene"), c.Param("shot"), models.ShotField(edit.Field), edit.Value)
	if err != nil {
		h.response.AppError(c, err)
		return
	}
	h.response.Success(c, session.Projector().Current())
}

// DeleteShot removes a shot. A second delete of the same shot is a no-op.
func (h *Handler) DeleteShot(c *gin.Context) {
	session := currentSession(c)
	deleted := session.DeleteShot(c.Param("scene"), c.Param("shot"))
	h.response.Success(c, Deleted{Deleted: deleted, View: session.Projector().Current()})
}

// RegenerateShot starts a shot regeneration
func (h *Handler) RegenerateShot(c *gin.Context) {
	session := currentSession(c)
	task, err := session.RegenerateShotByID(c.Param("scene"), c.Param("shot"))
	h.respondTask(c, task, err)
}

// InsertShot starts generating a shot below the addressed one
func (h *Handler) InsertShot(c *gin.Context) {
	session := currentSession(c)
	task, err := session.AddShotBelowByID(c.Param("scene"), c.Param("shot"))
	h.respondTask(c, task, err)
}

// SortScenes orders scenes by the number in their label
func (h *Handler) SortScenes(c *gin.Context) {
	session := currentSession(c)
	session.SortScenes()
	h.response.Success(c, session.Projector().Current())
}

// DispatchControl runs the operation behind a rendered control
func (h *Handler) DispatchControl(c *gin.Context) {
	session := currentSession(c)

	var control view.Control
	if err := c.ShouldBindJSON(&control); err != nil {
		h.response.BadRequest(c, "invalid control", err.Error())
		return
	}

	task, err := session.Dispatch(control)
	if err != nil {
		h.response.AppError(c, err)
		return
	}
	if task == nil {
		h.response.Success(c, session.Projector().Current())
		return
	}
	h.respondTask(c, task, nil)
}

// GetTask reports a task. ?wait=true blocks until it finished.
func (h *Handler) GetTask(c *gin.Context) {
	session := currentSession(c)
	task, ok := session.Task(c.Param("task"))
	if !ok {
		h.response.NotFound(c, "task")
		return
	}
	h.respondTask(c, task, nil)
}

// ListTasks reports every task of the session, oldest first
func (h *Handler) ListTasks(c *gin.Context) {
	tasks := currentSession(c).Tasks()
	infos := make([]services.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, task.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	h.response.Success(c, infos)
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	h.response.Success(c, gin.H{
		"status":    "ok",
		"sessions":  h.sessions.Count(),
		"websocket": h.ws.GetStatus(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Metrics returns the collected counters, gauges and histograms
func (h *Handler) Metrics(c *gin.Context) {
	h.response.Success(c, h.metrics.Collector().GetMetrics())
}

// respondTask replies 202 with the task, or 200 once it finished when the
// caller asked to wait
func (h *Handler) respondTask(c *gin.Context, task *services.Task, err error) {
	if err != nil {
		h.response.AppError(c, err)
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if err := task.Wait(c.Request.Context()); err != nil && task.Status() == services.TaskPending {
			h.response.AppError(c, err)
			return
		}
		h.response.Success(c, task.Info())
		return
	}
	h.response.Accepted(c, task.Info(), "task started")
}

func (h *Handler) state(session *services.EditorSession) StoryboardState {
	snapshot := session.Store().Snapshot()
	return StoryboardState{
		Epoch:      snapshot.Epoch,
		Generation: snapshot.Generation,
		Settings:   session.Settings(),
		Storyboard: snapshot.Storyboard,
		View:       view.Project(snapshot),
	}
}
