// internal/services/editor_session.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/utils"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

// Transport is the generation backend as seen by a session
type Transport interface {
	RequestStoryboard(ctx context.Context, req models.GenerateStoryboardRequest) (*models.Storyboard, error)
	RequestSceneRegeneration(ctx context.Context, scene models.Scene, style, character string) (*models.Scene, error)
	RequestShotRegeneration(ctx context.Context, shot models.Shot, style, character string) (*models.Shot, error)
	RequestShotInsertion(ctx context.Context, afterShot models.Shot, description, style, character, camera string) (*models.Shot, error)
}

// StylePropagation decides which style accompanies shot level requests
type StylePropagation string

const (
	// PropagateScene sends the scene's style override when one is set
	PropagateScene StylePropagation = "scene"
	// PropagateGlobal always sends the session style
	PropagateGlobal StylePropagation = "global"
)

// SessionOptions configures an EditorSession
type SessionOptions struct {
	Ordering       store.Ordering
	Policy         store.StalenessPolicy
	Propagation    StylePropagation
	RequestTimeout time.Duration
	Metrics        *utils.EditorMetrics
	Logger         *utils.Logger
}

// EditorSession is one user's editing session: a store, its projector and the
// prompt settings reused by every follow-up request.
type EditorSession struct {
	ID string

	transport Transport
	store     *store.Store
	projector *view.Projector
	opts      SessionOptions
	logger    *utils.Logger
	metrics   *utils.EditorMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	settings    models.PromptSettings
	tasks       map[string]*Task
	generateSeq uint64 // last Generate issued
	loadedSeq   uint64 // Generate whose storyboard is loaded
	closed      bool
}

// NewEditorSession creates a session bound to transport
func NewEditorSession(id string, transport Transport, opts SessionOptions) *EditorSession {
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewEditorMetrics(nil, opts.Logger)
	}
	if opts.Propagation == "" {
		opts.Propagation = PropagateScene
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &EditorSession{
		ID:        id,
		transport: transport,
		store: store.New(store.Options{
			Ordering: opts.Ordering,
			Policy:   opts.Policy,
			Metrics:  opts.Metrics,
		}),
		projector: view.NewProjector(opts.Logger),
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
	}
	session.projector.Attach(session.store)
	return session
}

// Store exposes the session store
func (e *EditorSession) Store() *store.Store {
	return e.store
}

// Projector exposes the session projector
func (e *EditorSession) Projector() *view.Projector {
	return e.projector
}

// Settings returns the prompt settings of the last generation
func (e *EditorSession) Settings() models.PromptSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings replaces the settings used by follow-up requests
func (e *EditorSession) UpdateSettings(settings models.PromptSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
}

// Generate requests a complete storyboard and loads it. On failure the store
// is left untouched. The result is discarded only when a newer Generate has
// already loaded its storyboard; a newer one that failed does not supersede it.
func (e *EditorSession) Generate(ctx context.Context, settings models.PromptSettings) error {
	if e.isClosed() {
		return apperrors.NewCanceledError("session closed", nil)
	}

	e.mu.Lock()
	e.generateSeq++
	seq := e.generateSeq
	e.mu.Unlock()

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	board, err := e.transport.RequestStoryboard(ctx, models.GenerateStoryboardRequest{
		Prompt:    settings.Prompt,
		Style:     settings.Style,
		Character: settings.Character,
		Camera:    settings.Camera,
	})
	if err != nil {
		e.logger.Error("Storyboard generation failed", map[string]interface{}{
			"session_id": e.ID,
			"error":      err.Error(),
		})
		return err
	}

	e.mu.Lock()
	if seq < e.loadedSeq {
		e.mu.Unlock()
		e.metrics.RecordStaleDiscard("storyboard_generation", store.ReasonReloaded, map[string]interface{}{
			"session_id": e.ID,
		})
		return apperrors.NewStaleResponse("a newer storyboard generation superseded this one")
	}
	e.loadedSeq = seq
	e.settings = settings
	// loading under e.mu keeps a concurrent Generate from interleaving its load
	e.store.Load(*board)
	e.mu.Unlock()

	e.logger.Info("Storyboard loaded", map[string]interface{}{
		"session_id": e.ID,
		"scenes":     len(board.Scenes),
	})
	return nil
}

// RegenerateScene starts the regeneration of the scene at sceneIndex
func (e *EditorSession) RegenerateScene(sceneIndex int) (*Task, error) {
	capture, err := e.store.CaptureScene(sceneIndex)
	if err != nil {
		return nil, err
	}
	return e.regenerateScene(capture)
}

// RegenerateSceneByID starts the regeneration of the scene with sceneID
func (e *EditorSession) RegenerateSceneByID(sceneID string) (*Task, error) {
	capture, err := e.captureByID(sceneID, "", e.store.CaptureScene, nil)
	if err != nil {
		return nil, err
	}
	return e.regenerateScene(capture)
}

func (e *EditorSession) regenerateScene(capture store.Capture) (*Task, error) {
	settings := e.Settings()
	style := e.sceneStyle(capture.Scene, settings)

	return e.start(capture.Ticket, func(ctx context.Context) error {
		scene, err := e.transport.RequestSceneRegeneration(ctx, capture.Scene, style, settings.Character)
		if err != nil {
			return err
		}
		return e.store.ApplySceneRegeneration(capture.Ticket, *scene)
	})
}

// RegenerateShot starts the regeneration of the shot at (sceneIndex, shotIndex)
func (e *EditorSession) RegenerateShot(sceneIndex, shotIndex int) (*Task, error) {
	capture, err := e.store.CaptureShot(sceneIndex, shotIndex)
	if err != nil {
		return nil, err
	}
	return e.regenerateShot(capture)
}

// RegenerateShotByID starts the regeneration of a shot addressed by ids
func (e *EditorSession) RegenerateShotByID(sceneID, shotID string) (*Task, error) {
	capture, err := e.captureByID(sceneID, shotID, nil, e.store.CaptureShot)
	if err != nil {
		return nil, err
	}
	return e.regenerateShot(capture)
}

func (e *EditorSession) regenerateShot(capture store.Capture) (*Task, error) {
	settings := e.Settings()
	style := e.shotStyle(capture.Scene, settings)

	return e.start(capture.Ticket, func(ctx context.Context) error {
		shot, err := e.transport.RequestShotRegeneration(ctx, capture.Shot, style, settings.Character)
		if err != nil {
			return err
		}
		return e.store.ApplyShotRegeneration(capture.Ticket, *shot)
	})
}

// AddShotBelow asks the backend for a new shot placed after (sceneIndex, shotIndex)
func (e *EditorSession) AddShotBelow(sceneIndex, shotIndex int) (*Task, error) {
	capture, err := e.store.CaptureInsertion(sceneIndex, shotIndex)
	if err != nil {
		return nil, err
	}
	return e.addShot(capture)
}

// AddShotBelowByID asks for a new shot placed after the shot with shotID
func (e *EditorSession) AddShotBelowByID(sceneID, shotID string) (*Task, error) {
	capture, err := e.captureByID(sceneID, shotID, nil, e.store.CaptureInsertion)
	if err != nil {
		return nil, err
	}
	return e.addShot(capture)
}

func (e *EditorSession) addShot(capture store.Capture) (*Task, error) {
	settings := e.Settings()
	style := e.shotStyle(capture.Scene, settings)

	return e.start(capture.Ticket, func(ctx context.Context) error {
		shot, err := e.transport.RequestShotInsertion(ctx, capture.Shot, "", style, settings.Character, settings.Camera)
		if err != nil {
			return err
		}
		return e.store.InsertShot(capture.Ticket, *shot)
	})
}

// captureByID resolves ids to positions and captures them, making sure the
// capture still hits the same entities
func (e *EditorSession) captureByID(
	sceneID, shotID string,
	captureScene func(int) (store.Capture, error),
	captureShot func(int, int) (store.Capture, error),
) (store.Capture, error) {
	sceneIndex, shotIndex, ok := e.store.Locate(sceneID, shotID)
	if !ok {
		return store.Capture{}, apperrors.NewNotFoundError(fmt.Sprintf("scene %s / shot %s not found", sceneID, shotID), nil)
	}

	var capture store.Capture
	var err error
	if captureShot != nil {
		capture, err = captureShot(sceneIndex, shotIndex)
	} else {
		capture, err = captureScene(sceneIndex)
	}
	if err != nil {
		return store.Capture{}, err
	}
	if capture.Ticket.SceneID != sceneID || capture.Ticket.ShotID != shotID {
		return store.Capture{}, apperrors.NewNotFoundError("target moved while capturing", nil)
	}
	return capture, nil
}

// sceneStyle is the style sent with a scene regeneration
func (e *EditorSession) sceneStyle(scene models.Scene, settings models.PromptSettings) string {
	if scene.SceneStyle != "" {
		return string(scene.SceneStyle)
	}
	return settings.Style
}

// shotStyle is the style sent with shot regeneration and insertion
func (e *EditorSession) shotStyle(scene models.Scene, settings models.PromptSettings) string {
	if e.opts.Propagation == PropagateScene {
		return e.sceneStyle(scene, settings)
	}
	return settings.Style
}

// EditSceneField edits a scene field in place
func (e *EditorSession) EditSceneField(sceneIndex int, field models.SceneField, value string) error {
	return e.store.EditSceneField(sceneIndex, field, value)
}

// EditShotField edits a shot field in place
func (e *EditorSession) EditShotField(sceneIndex, shotIndex int, field models.ShotField, value string) error {
	return e.store.EditShotField(sceneIndex, shotIndex, field, value)
}

// DeleteShot removes a shot; repeated calls for the same shot are no-ops
func (e *EditorSession) DeleteShot(sceneID, shotID string) bool {
	return e.store.DeleteShotByID(sceneID, shotID)
}

// DeleteScene removes a scene; repeated calls are no-ops
func (e *EditorSession) DeleteScene(sceneID string) bool {
	return e.store.DeleteSceneByID(sceneID)
}

// SortScenes orders scenes by their label number
func (e *EditorSession) SortScenes() {
	e.store.SortScenesByNumber()
}

// Dispatch runs the operation behind a rendered control. Targets are resolved
// by the ids captured at render time. Download controls are handled by the
// shell and are rejected here.
func (e *EditorSession) Dispatch(control view.Control) (*Task, error) {
	switch control.Action {
	case view.ActionEditSceneField:
		return nil, e.store.EditSceneFieldByID(control.SceneID, models.SceneField(control.Field), control.Value)
	case view.ActionEditShotField:
		return nil, e.store.EditShotFieldByID(control.SceneID, control.ShotID, models.ShotField(control.Field), control.Value)
	case view.ActionRegenerateScene:
		return e.RegenerateSceneByID(control.SceneID)
	case view.ActionRegenerateShot:
		return e.RegenerateShotByID(control.SceneID, control.ShotID)
	case view.ActionAddShotBelow:
		return e.AddShotBelowByID(control.SceneID, control.ShotID)
	case view.ActionDeleteShot:
		e.DeleteShot(control.SceneID, control.ShotID)
		return nil, nil
	case view.ActionDeleteScene:
		e.DeleteScene(control.SceneID)
		return nil, nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("action %q is not dispatchable", control.Action), nil)
	}
}

// Task returns a task started by this session
func (e *EditorSession) Task(id string) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.tasks[id]
	return task, ok
}

// Tasks returns every task started by this session
func (e *EditorSession) Tasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, task := range e.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

// PruneTasks forgets tasks that finished before cutoff. Pending tasks stay.
func (e *EditorSession) PruneTasks(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0
	for id, task := range e.tasks {
		if task.finishedBefore(cutoff) {
			delete(e.tasks, id)
			pruned++
		}
	}
	return pruned
}

// Wait blocks until every started task finished
func (e *EditorSession) Wait() {
	e.wg.Wait()
}

// Close cancels outstanding tasks and waits for them
func (e *EditorSession) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.projector.Detach()
}

func (e *EditorSession) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *EditorSession) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RequestTimeout > 0 {
		return context.WithTimeout(parent, e.opts.RequestTimeout)
	}
	return context.WithCancel(parent)
}

// start runs fn in the background as a Task. fn returns the store's verdict.
func (e *EditorSession) start(ticket store.Ticket, fn func(ctx context.Context) error) (*Task, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, apperrors.NewCanceledError("session closed", nil)
	}
	ctx, cancel := e.requestContext(e.ctx)
	task := newTask(uuid.NewString(), ticket, cancel)
	e.tasks[task.ID] = task
	e.wg.Add(1)
	e.mu.Unlock()

	collector := e.metrics.Collector()
	collector.IncGauge("tasks_in_flight")

	go func() {
		defer e.wg.Done()
		defer collector.DecGauge("tasks_in_flight")

		status := task.finish(fn(ctx))
		fields := map[string]interface{}{
			"session_id": e.ID,
			"task_id":    task.ID,
			"kind":       string(task.Kind),
			"status":     string(status),
		}
		if status == TaskFailed || status == TaskCanceled {
			fields["error"] = task.Err().Error()
			e.logger.Warn("Editor task did not apply", fields)
			return
		}
		e.logger.Debug("Editor task finished", fields)
	}()

	return task, nil
}
