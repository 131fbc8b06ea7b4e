package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/utils"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

type fakeCall struct {
	op        string
	style     string
	character string
	camera    string
	frame     models.Ordinal
}

// fakeTransport answers like the backend; hold blocks the next call of an op
type fakeTransport struct {
	mu      sync.Mutex
	board   models.Storyboard
	gates   map[string]chan struct{}
	fail    map[string]error
	calls   []fakeCall
	entered chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		board:   sampleBoard(),
		gates:   make(map[string]chan struct{}),
		fail:    make(map[string]error),
		entered: make(chan string, 64),
	}
}

func (f *fakeTransport) hold(op string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeTransport) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeTransport) lastCall(op string) fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].op == op {
			return f.calls[i]
		}
	}
	return fakeCall{}
}

func (f *fakeTransport) enter(ctx context.Context, call fakeCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	gate := f.gates[call.op]
	delete(f.gates, call.op)
	err := f.fail[call.op]
	delete(f.fail, call.op)
	f.mu.Unlock()

	f.entered <- call.op
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return apperrors.NewCanceledError("request abandoned", ctx.Err())
		}
	}
	return err
}

func (f *fakeTransport) RequestStoryboard(ctx context.Context, req models.GenerateStoryboardRequest) (*models.Storyboard, error) {
	if err := f.enter(ctx, fakeCall{op: "generate", style: req.Style, character: req.Character, camera: req.Camera}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	board := f.board.Clone()
	return &board, nil
}

func (f *fakeTransport) RequestSceneRegeneration(ctx context.Context, scene models.Scene, style, character string) (*models.Scene, error) {
	if err := f.enter(ctx, fakeCall{op: "scene", style: style, character: character}); err != nil {
		return nil, err
	}
	regenerated := scene.Clone()
	for i := range regenerated.Shots {
		regenerated.Shots[i].ImageURL = "regenerated-scene.png"
	}
	return &regenerated, nil
}

func (f *fakeTransport) RequestShotRegeneration(ctx context.Context, shot models.Shot, style, character string) (*models.Shot, error) {
	if err := f.enter(ctx, fakeCall{op: "shot", style: style, character: character}); err != nil {
		return nil, err
	}
	shot.ImageURL = "regenerated-shot.png"
	return &shot, nil
}

func (f *fakeTransport) RequestShotInsertion(ctx context.Context, afterShot models.Shot, description, style, character, camera string) (*models.Shot, error) {
	frame := afterShot.FrameNumber + 1
	if err := f.enter(ctx, fakeCall{op: "insert", style: style, character: character, camera: camera, frame: frame}); err != nil {
		return nil, err
	}
	return &models.Shot{FrameNumber: frame, Description: "inserted", CameraAngle: camera}, nil
}

func sampleBoard() models.Storyboard {
	return models.Storyboard{Scenes: []models.Scene{
		{Label: "Scene 2", Title: "Second", Shots: []models.Shot{{FrameNumber: 1, Description: "b1"}}},
		{Label: "Scene 1", Title: "First", Shots: []models.Shot{
			{FrameNumber: 1, Description: "a1"}, {FrameNumber: 2, Description: "a2"},
		}},
	}}
}

var settings = models.PromptSettings{Prompt: "a heist", Style: "anime", Character: "Mira", Camera: "wide"}

func newTestSession(t *testing.T, transport Transport, opts SessionOptions) (*EditorSession, *utils.EditorMetrics) {
	t.Helper()
	logger := utils.NewLogger(io.Discard)
	metrics := utils.NewEditorMetrics(utils.NewMetricsCollector(), logger)
	opts.Logger = logger
	opts.Metrics = metrics
	session := NewEditorSession("", transport, opts)
	t.Cleanup(session.Close)
	return session, metrics
}

func generated(t *testing.T, opts SessionOptions) (*EditorSession, *fakeTransport, *utils.EditorMetrics) {
	t.Helper()
	transport := newFakeTransport()
	session, metrics := newTestSession(t, transport, opts)
	require.NoError(t, session.Generate(context.Background(), settings))
	<-transport.entered
	return session, transport, metrics
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	select {
	case <-task.Done():
	default:
		t.Fatalf("task %s did not finish", task.ID)
	}
	return err
}

func TestGenerateLoadsAndRenders(t *testing.T) {
	session, _, _ := generated(t, SessionOptions{})

	require.NotEmpty(t, session.ID)
	require.Equal(t, settings, session.Settings())
	tree := session.Projector().Current()
	require.Len(t, tree.Scenes, 2)
	require.Equal(t, "Scene 1: First", tree.Scenes[0].Heading)
}

func TestGenerateFailureLeavesStateUnchanged(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})
	before := session.Store().Snapshot()

	transport.failNext("generate", apperrors.NewNetworkFailure("backend unreachable", nil))
	err := session.Generate(context.Background(), models.PromptSettings{Prompt: "other"})
	require.True(t, apperrors.IsNetworkFailure(err))
	require.Equal(t, before, session.Store().Snapshot())
	require.Equal(t, settings, session.Settings())
}

func TestGenerateSupersededByNewerGeneration(t *testing.T) {
	transport := newFakeTransport()
	session, metrics := newTestSession(t, transport, SessionOptions{})

	release := transport.hold("generate")
	firstErr := make(chan error, 1)
	go func() { firstErr <- session.Generate(context.Background(), settings) }()
	require.Equal(t, "generate", <-transport.entered)

	newer := models.PromptSettings{Prompt: "newer", Style: "comic"}
	require.NoError(t, session.Generate(context.Background(), newer))
	<-transport.entered
	release()

	require.True(t, apperrors.IsStaleResponse(<-firstErr))
	require.Equal(t, newer, session.Settings())
	require.Equal(t, int64(1), metrics.StaleDiscards())
}

func TestGenerateKeptWhenNewerGenerationFails(t *testing.T) {
	transport := newFakeTransport()
	session, metrics := newTestSession(t, transport, SessionOptions{})

	release := transport.hold("generate")
	firstErr := make(chan error, 1)
	go func() { firstErr <- session.Generate(context.Background(), settings) }()
	require.Equal(t, "generate", <-transport.entered)

	transport.failNext("generate", apperrors.NewNetworkFailure("backend unreachable", nil))
	err := session.Generate(context.Background(), models.PromptSettings{Prompt: "newer"})
	require.True(t, apperrors.IsNetworkFailure(err))
	<-transport.entered
	release()

	require.NoError(t, <-firstErr)
	require.Equal(t, settings, session.Settings())
	require.Equal(t, 2, session.Store().Len())
	require.Equal(t, int64(0), metrics.StaleDiscards())
}

func TestRegenerateSceneApplies(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})

	task, err := session.RegenerateScene(1)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	require.Equal(t, TaskApplied, task.Status())

	scene, err := session.Store().SceneAt(1)
	require.NoError(t, err)
	require.Equal(t, "regenerated-scene.png", scene.Shots[0].ImageURL)
	require.Equal(t, "anime", transport.lastCall("scene").style)
	require.Equal(t, "Mira", transport.lastCall("scene").character)

	info := task.Info()
	require.Equal(t, TaskApplied, info.Status)
	require.NotNil(t, info.FinishedAt)
}

func TestRegenerateSceneOutOfRange(t *testing.T) {
	session, _, _ := generated(t, SessionOptions{})
	_, err := session.RegenerateScene(5)
	require.True(t, apperrors.IsIndexOutOfRange(err))
}

func TestSceneRegenerationDiscardedAfterDelete(t *testing.T) {
	session, transport, metrics := generated(t, SessionOptions{})

	release := transport.hold("scene")
	task, err := session.RegenerateScene(0)
	require.NoError(t, err)
	require.True(t, session.DeleteScene(task.Ticket.SceneID))
	before := session.Store().Snapshot()
	release()

	err = waitTask(t, task)
	require.True(t, apperrors.IsStaleResponse(err))
	require.Equal(t, TaskDiscarded, task.Status())
	require.Equal(t, before, session.Store().Snapshot())
	require.Equal(t, int64(1), metrics.StaleDiscards())
}

func TestNewStoryboardInvalidatesOutstandingTasks(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})

	release := transport.hold("shot")
	task, err := session.RegenerateShot(1, 0)
	require.NoError(t, err)
	<-transport.entered

	require.NoError(t, session.Generate(context.Background(), settings))
	loaded := session.Store().Snapshot()
	release()

	require.True(t, apperrors.IsStaleResponse(waitTask(t, task)))
	require.Equal(t, loaded, session.Store().Snapshot())
}

func TestLocalTitleEditSurvivesOtherSceneRegeneration(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})

	release := transport.hold("scene")
	task, err := session.RegenerateScene(1)
	require.NoError(t, err)
	require.NoError(t, session.EditSceneField(0, models.SceneFieldTitle, "My title"))
	release()
	require.NoError(t, waitTask(t, task))

	first, _ := session.Store().SceneAt(0)
	require.Equal(t, "My title", first.Title)
}

func TestAddShotBelow(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})

	task, err := session.AddShotBelow(0, 0)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	call := transport.lastCall("insert")
	require.Equal(t, models.Ordinal(2), call.frame)
	require.Equal(t, "wide", call.camera)

	scene, _ := session.Store().SceneAt(0)
	require.Len(t, scene.Shots, 3)
	require.Equal(t, "inserted", scene.Shots[1].Description)
	require.Equal(t, "a2", scene.Shots[2].Description)
}

func TestFailedRegenerationLeavesShotUnchanged(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{})
	before, _ := session.Store().ShotAt(0, 1)

	transport.failNext("shot", apperrors.NewInvalidPayload("regenerated shot is malformed", nil))
	task, err := session.RegenerateShot(0, 1)
	require.NoError(t, err)
	require.True(t, apperrors.IsInvalidPayload(waitTask(t, task)))
	require.Equal(t, TaskFailed, task.Status())

	after, _ := session.Store().ShotAt(0, 1)
	require.Equal(t, before, after)
}

func TestStylePropagation(t *testing.T) {
	for _, tc := range []struct {
		propagation StylePropagation
		wantShot    string
	}{
		{PropagateScene, "comic"},
		{PropagateGlobal, "anime"},
	} {
		t.Run(string(tc.propagation), func(t *testing.T) {
			session, transport, _ := generated(t, SessionOptions{Propagation: tc.propagation})
			require.NoError(t, session.EditSceneField(0, models.SceneFieldStyle, "comic"))

			shotTask, err := session.RegenerateShot(0, 0)
			require.NoError(t, err)
			require.NoError(t, waitTask(t, shotTask))
			require.Equal(t, tc.wantShot, transport.lastCall("shot").style)

			insertTask, err := session.AddShotBelow(0, 0)
			require.NoError(t, err)
			require.NoError(t, waitTask(t, insertTask))
			require.Equal(t, tc.wantShot, transport.lastCall("insert").style)

			sceneTask, err := session.RegenerateScene(0)
			require.NoError(t, err)
			require.NoError(t, waitTask(t, sceneTask))
			require.Equal(t, "comic", transport.lastCall("scene").style)
		})
	}
}

func TestGenerationPolicySession(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{Policy: store.PolicyGeneration})

	release := transport.hold("shot")
	task, err := session.RegenerateShot(1, 0)
	require.NoError(t, err)
	require.True(t, session.Store().DeleteShot(session.Store().Generation(), 0, 1))
	release()

	require.True(t, apperrors.IsStaleResponse(waitTask(t, task)))
}

func TestDispatchControls(t *testing.T) {
	session, _, _ := generated(t, SessionOptions{})
	tree := session.Projector().Current()
	shot := tree.Scenes[0].Shots[1]

	var deleteControl, titleControl view.Control
	for _, control := range shot.Controls {
		if control.Action == view.ActionDeleteShot {
			deleteControl = control
		}
	}
	for _, control := range tree.Scenes[1].Controls {
		if control.Field == string(models.SceneFieldTitle) {
			titleControl = control
		}
	}

	_, err := session.Dispatch(deleteControl)
	require.NoError(t, err)
	_, err = session.Dispatch(deleteControl)
	require.NoError(t, err)
	scene, _ := session.Store().SceneAt(0)
	require.Len(t, scene.Shots, 1)

	titleControl.Value = "Renamed"
	_, err = session.Dispatch(titleControl)
	require.NoError(t, err)
	second, _ := session.Store().SceneAt(1)
	require.Equal(t, "Renamed", second.Title)

	regenerate := tree.Scenes[0].Shots[0].Controls[2]
	require.Equal(t, view.ActionRegenerateShot, regenerate.Action)
	task, err := session.Dispatch(regenerate)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	found, ok := session.Task(task.ID)
	require.True(t, ok)
	require.Same(t, task, found)

	_, err = session.Dispatch(view.Control{Action: view.ActionDownload})
	require.True(t, apperrors.IsValidationError(err))

	_, err = session.Dispatch(view.Control{Action: view.ActionRegenerateShot, SceneID: "gone", ShotID: "gone"})
	require.True(t, apperrors.IsNotFoundError(err))
}

func TestCloseCancelsOutstandingTasks(t *testing.T) {
	transport := newFakeTransport()
	logger := utils.NewLogger(io.Discard)
	session := NewEditorSession("s", transport, SessionOptions{
		Logger:  logger,
		Metrics: utils.NewEditorMetrics(utils.NewMetricsCollector(), logger),
	})
	require.NoError(t, session.Generate(context.Background(), settings))
	<-transport.entered

	transport.hold("scene")
	task, err := session.RegenerateScene(0)
	require.NoError(t, err)
	<-transport.entered

	session.Close()
	require.Equal(t, TaskCanceled, task.Status())

	_, err = session.RegenerateScene(0)
	require.True(t, apperrors.IsCanceled(err))
}

func TestRequestTimeoutCancelsTask(t *testing.T) {
	session, transport, _ := generated(t, SessionOptions{RequestTimeout: 20 * time.Millisecond})
	release := transport.hold("shot")
	defer release()

	task, err := session.RegenerateShot(0, 0)
	require.NoError(t, err)
	require.True(t, apperrors.IsCanceled(waitTask(t, task)))
}

func TestSessionService(t *testing.T) {
	logger := utils.NewLogger(io.Discard)
	factory := func(id string) *EditorSession {
		return NewEditorSession(id, newFakeTransport(), SessionOptions{
			Logger:  logger,
			Metrics: utils.NewEditorMetrics(utils.NewMetricsCollector(), logger),
		})
	}
	service := NewSessionService(factory, time.Hour, 0, logger)
	defer service.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	first := service.Create()
	second := service.Create()
	require.Equal(t, 2, service.Count())

	got, err := service.Get(first.ID)
	require.NoError(t, err)
	require.Same(t, first, got)

	now = now.Add(50 * time.Minute)
	_, err = service.Get(first.ID)
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	require.Equal(t, 1, service.cleanupExpired())

	_, err = service.Get(second.ID)
	require.True(t, apperrors.IsNotFoundError(err))
	require.True(t, service.Remove(first.ID))
	require.False(t, service.Remove(first.ID))
	require.Equal(t, 0, service.Count())
}

func TestSessionServicePrunesFinishedTasks(t *testing.T) {
	logger := utils.NewLogger(io.Discard)
	transport := newFakeTransport()
	service := NewSessionService(func(id string) *EditorSession {
		return NewEditorSession(id, transport, SessionOptions{
			Logger:  logger,
			Metrics: utils.NewEditorMetrics(utils.NewMetricsCollector(), logger),
		})
	}, time.Hour, 0, logger)
	defer service.Close()

	session := service.Create()
	require.NoError(t, session.Generate(context.Background(), settings))
	<-transport.entered

	finished, err := session.RegenerateShot(0, 0)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, finished))

	release := transport.hold("scene")
	defer release()
	pending, err := session.RegenerateScene(1)
	require.NoError(t, err)

	require.Equal(t, 0, service.pruneTasks())
	require.Len(t, session.Tasks(), 2)

	service.now = func() time.Time { return time.Now().Add(TaskRetention + time.Minute) }
	require.Equal(t, 1, service.pruneTasks())

	_, ok := session.Task(finished.ID)
	require.False(t, ok)
	_, ok = session.Task(pending.ID)
	require.True(t, ok)
}
