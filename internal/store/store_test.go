package store

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

func newTestStore(t *testing.T, opts Options) (*Store, *utils.EditorMetrics) {
	t.Helper()
	metrics := utils.NewEditorMetrics(utils.NewMetricsCollector(), utils.NewLogger(io.Discard))
	var mu sync.Mutex
	next := 0
	opts.Metrics = metrics
	opts.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("id-%d", next)
	}
	return New(opts), metrics
}

// sampleBoard returns scenes labelled 3, 1, 2 in that order
func sampleBoard() models.Storyboard {
	scene := func(n int, shots ...string) models.Scene {
		sc := models.Scene{SceneNumber: models.Ordinal(n), Label: fmt.Sprintf("Scene %d", n), Title: fmt.Sprintf("Title %d", n)}
		for i, desc := range shots {
			sc.Shots = append(sc.Shots, models.Shot{FrameNumber: models.Ordinal(i + 1), Description: desc, ImageURL: "old.png"})
		}
		return sc
	}
	return models.Storyboard{Scenes: []models.Scene{
		scene(3, "c1", "c2"),
		scene(1, "a1", "a2", "a3"),
		scene(2, "b1"),
	}}
}

func titles(snap Snapshot) []string {
	var out []string
	for _, scene := range snap.Storyboard.Scenes {
		out = append(out, scene.Title)
	}
	return out
}

func descriptions(scene models.Scene) []string {
	var out []string
	for _, shot := range scene.Shots {
		out = append(out, shot.Description)
	}
	return out
}

func TestLoadSortsByLabelAndAssignsIDs(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	snap := s.Snapshot()
	require.Equal(t, []string{"Title 1", "Title 2", "Title 3"}, titles(snap))
	require.Equal(t, uint64(1), snap.Epoch)
	require.Equal(t, uint64(1), snap.Generation)

	seen := map[string]bool{}
	for _, scene := range snap.Storyboard.Scenes {
		require.NotEmpty(t, scene.ID)
		require.False(t, seen[scene.ID])
		seen[scene.ID] = true
		require.NotNil(t, scene.Shots)
		for _, shot := range scene.Shots {
			require.NotEmpty(t, shot.ID)
			require.False(t, seen[shot.ID])
			seen[shot.ID] = true
		}
	}
}

func TestLoadServerOrdering(t *testing.T) {
	s, _ := newTestStore(t, Options{Ordering: OrderServer})
	s.Load(sampleBoard())
	require.Equal(t, []string{"Title 3", "Title 1", "Title 2"}, titles(s.Snapshot()))

	s.SortScenesByNumber()
	require.Equal(t, []string{"Title 1", "Title 2", "Title 3"}, titles(s.Snapshot()))
}

func TestSortKeepsUnnumberedScenesLast(t *testing.T) {
	s, _ := newTestStore(t, Options{Ordering: OrderServer})
	s.Load(models.Storyboard{Scenes: []models.Scene{
		{Label: "Epilogue", Title: "E", Shots: []models.Shot{}},
		{Label: "Scene 2", Title: "B", Shots: []models.Shot{}},
		{Label: "Prologue", Title: "P", Shots: []models.Shot{}},
		{Label: "Scene 1", Title: "A", Shots: []models.Shot{}},
	}})
	s.SortScenesByNumber()
	require.Equal(t, []string{"A", "B", "E", "P"}, titles(s.Snapshot()))
}

func TestLoadDropsIncomingIDs(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	board := sampleBoard()
	board.Scenes[0].ID = "dup"
	board.Scenes[1].ID = "dup"
	s.Load(board)

	snap := s.Snapshot()
	require.NotEqual(t, snap.Storyboard.Scenes[0].ID, snap.Storyboard.Scenes[1].ID)
}

func TestSceneRegenerationPreservesIdentity(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(0)
	require.NoError(t, err)
	before := capture.Scene

	regenerated := before.Clone()
	regenerated.Title = "Title 1 (new)"
	for i := range regenerated.Shots {
		regenerated.Shots[i].ImageURL = fmt.Sprintf("new-%d.png", i)
	}
	require.NoError(t, s.ApplySceneRegeneration(capture.Ticket, regenerated))

	after, err := s.SceneAt(0)
	require.NoError(t, err)
	require.Equal(t, before.ID, after.ID)
	require.Equal(t, "Title 1 (new)", after.Title)
	for i := range after.Shots {
		require.Equal(t, before.Shots[i].ID, after.Shots[i].ID)
		require.Equal(t, fmt.Sprintf("new-%d.png", i), after.Shots[i].ImageURL)
	}
	require.Equal(t, uint64(2), s.Generation())
}

func TestSceneRegenerationWithoutEchoedIDs(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(0)
	require.NoError(t, err)

	regenerated := models.Scene{Title: "fresh", Shots: []models.Shot{
		{Description: "x"}, {Description: "y"}, {Description: "z"}, {Description: "extra"},
	}}
	require.NoError(t, s.ApplySceneRegeneration(capture.Ticket, regenerated))

	after, err := s.SceneAt(0)
	require.NoError(t, err)
	require.Len(t, after.Shots, 4)
	for i := 0; i < 3; i++ {
		require.Equal(t, capture.Scene.Shots[i].ID, after.Shots[i].ID)
	}
	require.NotEmpty(t, after.Shots[3].ID)
	require.NotEqual(t, after.Shots[2].ID, after.Shots[3].ID)
}

func TestSceneRegenerationDiscardedAfterSceneDeleted(t *testing.T) {
	s, metrics := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(1)
	require.NoError(t, err)
	require.True(t, s.DeleteScene(s.Generation(), 1))
	before := s.Snapshot()

	err = s.ApplySceneRegeneration(capture.Ticket, capture.Scene)
	require.True(t, apperrors.IsStaleResponse(err))
	require.Equal(t, before, s.Snapshot())
	require.Equal(t, int64(1), metrics.StaleDiscards())
}

func TestSceneRegenerationFollowsSceneAcrossIndexShift(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(2)
	require.NoError(t, err)
	require.True(t, s.DeleteScene(s.Generation(), 0))

	regenerated := capture.Scene.Clone()
	regenerated.Title = "moved"
	require.NoError(t, s.ApplySceneRegeneration(capture.Ticket, regenerated))

	require.Equal(t, []string{"Title 2", "moved"}, titles(s.Snapshot()))
}

func TestGenerationPolicyDiscardsAfterStructuralChange(t *testing.T) {
	s, metrics := newTestStore(t, Options{Policy: PolicyGeneration})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(2)
	require.NoError(t, err)
	require.True(t, s.DeleteShot(s.Generation(), 0, 0))

	err = s.ApplySceneRegeneration(capture.Ticket, capture.Scene)
	require.True(t, apperrors.IsStaleResponse(err))
	require.Equal(t, int64(1), metrics.Collector().GetCounterValue("stale_responses_"+string(KindScene)))
}

func TestEditingOtherSceneDoesNotBlockRegeneration(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(1)
	require.NoError(t, err)
	require.NoError(t, s.EditSceneField(0, models.SceneFieldTitle, "A edited"))

	regenerated := capture.Scene.Clone()
	regenerated.Shots[0].ImageURL = "fresh.png"
	require.NoError(t, s.ApplySceneRegeneration(capture.Ticket, regenerated))

	snap := s.Snapshot()
	require.Equal(t, "A edited", snap.Storyboard.Scenes[0].Title)
	require.Equal(t, "fresh.png", snap.Storyboard.Scenes[1].Shots[0].ImageURL)
}

func TestEditOnTargetMakesRegenerationStale(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureScene(0)
	require.NoError(t, err)
	require.NoError(t, s.EditSceneField(0, models.SceneFieldTitle, "typed while waiting"))

	err = s.ApplySceneRegeneration(capture.Ticket, capture.Scene)
	require.True(t, apperrors.IsStaleResponse(err))

	scene, err := s.SceneAt(0)
	require.NoError(t, err)
	require.Equal(t, "typed while waiting", scene.Title)
}

func TestLoadInvalidatesPendingTickets(t *testing.T) {
	s, metrics := newTestStore(t, Options{})
	s.Load(sampleBoard())

	sceneCapture, err := s.CaptureScene(0)
	require.NoError(t, err)
	shotCapture, err := s.CaptureShot(0, 1)
	require.NoError(t, err)
	insertCapture, err := s.CaptureInsertion(0, 0)
	require.NoError(t, err)

	s.Load(sampleBoard())
	loaded := s.Snapshot()

	require.True(t, s.IsStale(sceneCapture.Ticket))
	require.Error(t, s.ApplySceneRegeneration(sceneCapture.Ticket, sceneCapture.Scene))
	require.Error(t, s.ApplyShotRegeneration(shotCapture.Ticket, shotCapture.Shot))
	require.Error(t, s.InsertShot(insertCapture.Ticket, models.Shot{Description: "late"}))

	require.Equal(t, loaded, s.Snapshot())
	require.Equal(t, int64(3), metrics.StaleDiscards())
}

func TestResetInvalidatesPendingTickets(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())
	capture, err := s.CaptureShot(1, 0)
	require.NoError(t, err)

	s.Reset()
	require.Equal(t, 0, s.Len())
	require.True(t, apperrors.IsStaleResponse(s.ApplyShotRegeneration(capture.Ticket, capture.Shot)))
}

func TestShotRegeneration(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureShot(0, 1)
	require.NoError(t, err)
	require.Equal(t, "a2", capture.Shot.Description)
	generation := s.Generation()

	regenerated := capture.Shot
	regenerated.ID = "ignored"
	regenerated.ImageURL = "regen.png"
	require.NoError(t, s.ApplyShotRegeneration(capture.Ticket, regenerated))

	shot, err := s.ShotAt(0, 1)
	require.NoError(t, err)
	require.Equal(t, capture.Shot.ID, shot.ID)
	require.Equal(t, "regen.png", shot.ImageURL)
	require.Equal(t, generation, s.Generation())

	// a second result for the same ticket lost the race to the first
	require.True(t, apperrors.IsStaleResponse(s.ApplyShotRegeneration(capture.Ticket, regenerated)))
}

func TestShotRegenerationDiscardedAfterShotDeleted(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureShot(0, 2)
	require.NoError(t, err)
	require.True(t, s.DeleteShotByID(capture.Ticket.SceneID, capture.Ticket.ShotID))

	err = s.ApplyShotRegeneration(capture.Ticket, capture.Shot)
	require.True(t, apperrors.IsStaleResponse(err))
	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a1", "a2"}, descriptions(scene))
}

func TestShotRegenerationFollowsShotAcrossIndexShift(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureShot(0, 2)
	require.NoError(t, err)
	require.True(t, s.DeleteShot(s.Generation(), 0, 0))

	regenerated := capture.Shot
	regenerated.Description = "a3 again"
	require.NoError(t, s.ApplyShotRegeneration(capture.Ticket, regenerated))

	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a2", "a3 again"}, descriptions(scene))
}

func TestInsertShotAfterAnchor(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureInsertion(0, 0)
	require.NoError(t, err)
	generation := s.Generation()

	require.NoError(t, s.InsertShot(capture.Ticket, models.Shot{Description: "new"}))
	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a1", "new", "a2", "a3"}, descriptions(scene))
	require.NotEmpty(t, scene.Shots[1].ID)
	require.Equal(t, generation+1, s.Generation())
}

func TestInsertShotUsesAnchorCurrentPosition(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureInsertion(0, 1)
	require.NoError(t, err)
	require.True(t, s.DeleteShot(s.Generation(), 0, 0))

	require.NoError(t, s.InsertShot(capture.Ticket, models.Shot{Description: "new"}))
	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a2", "new", "a3"}, descriptions(scene))
}

func TestInsertShotAtFront(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureInsertion(2, -1)
	require.NoError(t, err)
	require.NoError(t, s.InsertShot(capture.Ticket, models.Shot{Description: "opening"}))

	scene, _ := s.SceneAt(2)
	require.Equal(t, []string{"opening", "c1", "c2"}, descriptions(scene))
}

func TestInsertShotDiscardedWhenAnchorRemoved(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	capture, err := s.CaptureInsertion(0, 1)
	require.NoError(t, err)
	require.True(t, s.DeleteShot(s.Generation(), 0, 1))

	require.True(t, apperrors.IsStaleResponse(s.InsertShot(capture.Ticket, models.Shot{Description: "new"})))
	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a1", "a3"}, descriptions(scene))
}

func TestInsertShotAtPositional(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	require.NoError(t, s.InsertShotAt(1, 0, models.Shot{Description: "mid"}))
	scene, _ := s.SceneAt(1)
	require.Equal(t, []string{"b1", "mid"}, descriptions(scene))

	before := s.Snapshot()
	require.True(t, apperrors.IsIndexOutOfRange(s.InsertShotAt(1, 5, models.Shot{})))
	require.True(t, apperrors.IsIndexOutOfRange(s.InsertShotAt(9, 0, models.Shot{})))
	require.Equal(t, before, s.Snapshot())
}

func TestDeleteShotIsIdempotentByIdentity(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	shot, err := s.ShotAt(0, 1)
	require.NoError(t, err)
	sceneID := s.Snapshot().Storyboard.Scenes[0].ID

	require.True(t, s.DeleteShotByID(sceneID, shot.ID))
	require.False(t, s.DeleteShotByID(sceneID, shot.ID))

	scene, _ := s.SceneAt(0)
	require.Equal(t, []string{"a1", "a3"}, descriptions(scene))
}

func TestDeleteShotTwiceAtSameIndex(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	rendered := s.Generation()
	require.True(t, s.DeleteShot(rendered, 0, 0))
	require.False(t, s.DeleteShot(rendered, 0, 0))

	scene, err := s.SceneAt(0)
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a3"}, descriptions(scene))

	// field edits keep positions valid
	rendered = s.Generation()
	require.NoError(t, s.EditShotField(0, 0, models.ShotFieldDescription, "edited"))
	require.True(t, s.DeleteShot(rendered, 0, 0))

	rendered = s.Generation()
	require.True(t, s.DeleteScene(rendered, 0))
	require.False(t, s.DeleteScene(rendered, 0))
	require.Equal(t, 2, s.Len())
}

func TestDeleteOutOfRangeIsNoop(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())
	before := s.Snapshot()

	require.False(t, s.DeleteShot(s.Generation(), 0, 3))
	require.False(t, s.DeleteShot(s.Generation(), 7, 0))
	require.False(t, s.DeleteScene(s.Generation(), -1))
	require.False(t, s.DeleteSceneByID("missing"))
	require.Equal(t, before, s.Snapshot())
}

func TestDeletingLastShotKeepsEmptyList(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	require.True(t, s.DeleteShot(s.Generation(), 1, 0))
	scene, err := s.SceneAt(1)
	require.NoError(t, err)
	require.NotNil(t, scene.Shots)
	require.Empty(t, scene.Shots)
}

func TestEditFieldsOutOfRange(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	require.True(t, apperrors.IsIndexOutOfRange(s.EditSceneField(3, models.SceneFieldTitle, "x")))
	require.True(t, apperrors.IsIndexOutOfRange(s.EditShotField(0, 3, models.ShotFieldDescription, "x")))
	require.True(t, apperrors.IsValidationError(s.EditShotField(0, 0, models.ShotFieldFrameNumber, "x")))
	require.True(t, apperrors.IsNotFoundError(s.EditSceneFieldByID("missing", models.SceneFieldTitle, "x")))
}

func TestEditFieldsByID(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())
	scene := s.Snapshot().Storyboard.Scenes[2]

	require.NoError(t, s.EditSceneFieldByID(scene.ID, models.SceneFieldStyle, "comic"))
	require.NoError(t, s.EditShotFieldByID(scene.ID, scene.Shots[1].ID, models.ShotFieldDialogue, "Run!"))

	after, _ := s.SceneAt(2)
	require.Equal(t, models.StyleComic, after.SceneStyle)
	require.Equal(t, "Run!", after.Shots[1].Dialogue)

	sceneIndex, shotIndex, ok := s.Locate(scene.ID, scene.Shots[1].ID)
	require.True(t, ok)
	require.Equal(t, 2, sceneIndex)
	require.Equal(t, 1, shotIndex)
}

func TestSnapshotIsDetached(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	snap := s.Snapshot()
	snap.Storyboard.Scenes[0].Shots[0].Description = "mutated"
	snap.Storyboard.Scenes[0].Title = "mutated"

	scene, _ := s.SceneAt(0)
	require.Equal(t, "a1", scene.Shots[0].Description)
	require.Equal(t, "Title 1", scene.Title)
}

func TestSubscribersSeeEveryMutationInOrder(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	var got []string
	cancel := s.Subscribe(func(snap Snapshot) {
		got = append(got, fmt.Sprintf("%d:%d", snap.Generation, len(snap.Storyboard.Scenes)))
	})

	s.Load(sampleBoard())
	require.NoError(t, s.EditSceneField(0, models.SceneFieldTitle, "x"))
	require.True(t, s.DeleteScene(s.Generation(), 0))
	require.False(t, s.DeleteScene(s.Generation(), 10))

	cancel()
	s.Reset()

	require.Equal(t, []string{"1:3", "1:3", "2:2"}, got)
}

func TestConcurrentMutationsNotifyMonotonically(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	s.Load(sampleBoard())

	var mu sync.Mutex
	var generations []uint64
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		generations = append(generations, snap.Generation)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.InsertShotAt(0, -1, models.Shot{Description: "n"})
				return
			}
			_ = s.EditShotField(0, 0, models.ShotFieldEmotion, "calm")
		}(i)
	}
	wg.Wait()

	require.Len(t, generations, 20)
	for i := 1; i < len(generations); i++ {
		require.GreaterOrEqual(t, generations[i], generations[i-1])
	}
	scene, _ := s.SceneAt(0)
	require.Len(t, scene.Shots, 13)
}
