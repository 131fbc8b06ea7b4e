// internal/store/store.go

// Package store owns the authoritative in-memory storyboard. Every mutation
// goes through it, runs to completion under one lock, and is followed by a
// snapshot pushed to subscribers in mutation order.
//
// Scenes and shots carry opaque ids assigned when they enter the store.
// Asynchronous results are applied through a Ticket captured when the request
// was issued; the ticket is checked against the current state before anything
// is written, and results whose target has gone are dropped.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

// Ordering decides how scenes of a freshly loaded storyboard are ordered
type Ordering string

const (
	OrderByLabel Ordering = "label"
	OrderServer  Ordering = "server"
)

// StalenessPolicy decides when a ticket is considered stale
type StalenessPolicy string

const (
	// PolicyIdentity resolves the target by id; the result is stale when the
	// storyboard was reloaded, the target is gone or was edited since capture.
	PolicyIdentity StalenessPolicy = "identity"
	// PolicyGeneration additionally treats any structural mutation since
	// capture as staleness.
	PolicyGeneration StalenessPolicy = "generation"
)

// Options configures a Store
type Options struct {
	Ordering Ordering
	Policy   StalenessPolicy
	Metrics  *utils.EditorMetrics
	NewID    func() string
}

// Snapshot is an immutable copy of the store state
type Snapshot struct {
	Epoch      uint64
	Generation uint64
	// Seq increases with every applied mutation, field edits included
	Seq        uint64
	Storyboard models.Storyboard
}

// Listener receives a snapshot after every applied mutation.
// Listeners must not mutate the store.
type Listener func(Snapshot)

type shotEntry struct {
	shot     models.Shot
	revision uint64
}

type sceneEntry struct {
	scene    models.Scene // Shots is kept nil, see shots
	shots    []*shotEntry
	revision uint64
}

type subscription struct {
	id uint64
	fn Listener
}

// Store is the single source of truth for one editing session
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	ordering Ordering
	policy   StalenessPolicy
	metrics  *utils.EditorMetrics
	newID    func() string

	scenes    []*sceneEntry
	sceneByID map[string]*sceneEntry

	epoch      uint64 // bumped on Load and Reset
	generation uint64 // bumped on every structural mutation
	clock      uint64 // source of entity revisions
	seq        uint64 // bumped on every applied mutation

	listeners []subscription
	nextSubID uint64
}

// New creates an empty store
func New(opts Options) *Store {
	s := &Store{
		ordering:  opts.Ordering,
		policy:    opts.Policy,
		metrics:   opts.Metrics,
		newID:     opts.NewID,
		sceneByID: make(map[string]*sceneEntry),
	}
	if s.ordering == "" {
		s.ordering = OrderByLabel
	}
	if s.policy == "" {
		s.policy = PolicyIdentity
	}
	if s.metrics == nil {
		s.metrics = utils.NewEditorMetrics(nil, nil)
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Subscribe registers fn for every future snapshot and returns its cancel func
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// mutate runs fn under the store lock. When fn succeeds the new snapshot is
// delivered to listeners before the next mutation can notify.
func (s *Store) mutate(op string, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq++
	s.metrics.RecordStoreMutation(op)

	snapshot := s.snapshotLocked()
	listeners := append([]subscription(nil), s.listeners...)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, sub := range listeners {
		sub.fn(snapshot)
	}
	return nil
}

func (s *Store) tick() uint64 {
	s.clock++
	return s.clock
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	board := models.Storyboard{Scenes: make([]models.Scene, 0, len(s.scenes))}
	for _, entry := range s.scenes {
		board.Scenes = append(board.Scenes, entry.materialize())
	}
	return Snapshot{Epoch: s.epoch, Generation: s.generation, Seq: s.seq, Storyboard: board}
}

func (e *sceneEntry) materialize() models.Scene {
	scene := e.scene
	scene.Shots = make([]models.Shot, 0, len(e.shots))
	for _, shot := range e.shots {
		scene.Shots = append(scene.Shots, shot.shot)
	}
	return scene
}

// Len returns the number of scenes
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scenes)
}

// Generation returns the structural generation counter
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Epoch returns the load counter
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// SceneAt returns a copy of the scene at index
func (s *Store) SceneAt(sceneIndex int) (models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.sceneAtLocked(sceneIndex)
	if err != nil {
		return models.Scene{}, err
	}
	return entry.materialize(), nil
}

// ShotAt returns a copy of the shot at (sceneIndex, shotIndex)
func (s *Store) ShotAt(sceneIndex, shotIndex int) (models.Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, shot, err := s.shotAtLocked(sceneIndex, shotIndex)
	if err != nil {
		return models.Shot{}, err
	}
	return shot.shot, nil
}

// Locate returns the current positions of a scene and, when shotID is set, a shot
func (s *Store) Locate(sceneID, shotID string) (sceneIndex, shotIndex int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locateLocked(sceneID, shotID)
}

func (s *Store) locateLocked(sceneID, shotID string) (int, int, bool) {
	sceneIndex := -1
	for i, entry := range s.scenes {
		if entry.scene.ID == sceneID {
			sceneIndex = i
			break
		}
	}
	if sceneIndex < 0 {
		return -1, -1, false
	}
	if shotID == "" {
		return sceneIndex, -1, true
	}
	shotIndex := s.scenes[sceneIndex].indexOfShot(shotID)
	if shotIndex < 0 {
		return sceneIndex, -1, false
	}
	return sceneIndex, shotIndex, true
}

func (e *sceneEntry) indexOfShot(shotID string) int {
	for i, shot := range e.shots {
		if shot.shot.ID == shotID {
			return i
		}
	}
	return -1
}

func (s *Store) sceneAtLocked(sceneIndex int) (*sceneEntry, error) {
	if sceneIndex < 0 || sceneIndex >= len(s.scenes) {
		return nil, apperrors.NewIndexOutOfRange(indexMessage("scene", sceneIndex, len(s.scenes)))
	}
	return s.scenes[sceneIndex], nil
}

func (s *Store) shotAtLocked(sceneIndex, shotIndex int) (*sceneEntry, *shotEntry, error) {
	scene, err := s.sceneAtLocked(sceneIndex)
	if err != nil {
		return nil, nil, err
	}
	if shotIndex < 0 || shotIndex >= len(scene.shots) {
		return nil, nil, apperrors.NewIndexOutOfRange(indexMessage("shot", shotIndex, len(scene.shots)))
	}
	return scene, scene.shots[shotIndex], nil
}

func (s *Store) sceneByIDLocked(sceneID string) (*sceneEntry, error) {
	entry, ok := s.sceneByID[sceneID]
	if !ok {
		return nil, apperrors.NewNotFoundError("scene "+sceneID+" does not exist", nil)
	}
	return entry, nil
}

func (s *Store) shotByIDLocked(sceneID, shotID string) (*sceneEntry, *shotEntry, error) {
	scene, err := s.sceneByIDLocked(sceneID)
	if err != nil {
		return nil, nil, err
	}
	index := scene.indexOfShot(shotID)
	if index < 0 {
		return nil, nil, apperrors.NewNotFoundError("shot "+shotID+" does not exist", nil)
	}
	return scene, scene.shots[index], nil
}

// Load atomically replaces the whole storyboard. Every id is freshly assigned,
// so results of requests issued against the previous storyboard become stale.
func (s *Store) Load(board models.Storyboard) {
	_ = s.mutate("load", func() error {
		s.epoch++
		s.generation++
		s.scenes = make([]*sceneEntry, 0, len(board.Scenes))
		s.sceneByID = make(map[string]*sceneEntry, len(board.Scenes))

		for _, scene := range board.Scenes {
			entry := s.newSceneEntry(scene)
			s.scenes = append(s.scenes, entry)
			s.sceneByID[entry.scene.ID] = entry
		}
		if s.ordering == OrderByLabel {
			s.sortLocked()
		}
		return nil
	})
}

// Reset empties the store and invalidates every outstanding ticket
func (s *Store) Reset() {
	_ = s.mutate("reset", func() error {
		s.epoch++
		s.generation++
		s.scenes = nil
		s.sceneByID = make(map[string]*sceneEntry)
		return nil
	})
}

func (s *Store) newSceneEntry(scene models.Scene) *sceneEntry {
	entry := &sceneEntry{revision: s.tick()}
	entry.scene = scene
	entry.scene.ID = s.newID()
	entry.scene.Shots = nil
	entry.shots = make([]*shotEntry, 0, len(scene.Shots))
	for _, shot := range scene.Shots {
		shot.ID = s.newID()
		entry.shots = append(entry.shots, &shotEntry{shot: shot, revision: s.tick()})
	}
	return entry
}

// SortScenesByNumber stably orders scenes by the number parsed from their
// display label. Scenes without a parsable number keep their relative order
// after every numbered scene.
func (s *Store) SortScenesByNumber() {
	_ = s.mutate("sort_scenes", func() error {
		s.sortLocked()
		s.generation++
		return nil
	})
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.scenes, func(i, j int) bool {
		left, leftOK := sceneSortKey(s.scenes[i])
		right, rightOK := sceneSortKey(s.scenes[j])
		switch {
		case leftOK && rightOK:
			return left < right
		case leftOK:
			return true
		default:
			return false
		}
	})
}

func sceneSortKey(entry *sceneEntry) (int, bool) {
	return models.ParseLabelNumber(entry.scene.DisplayLabel())
}

// EditSceneField edits a scene field in place
func (s *Store) EditSceneField(sceneIndex int, field models.SceneField, value string) error {
	return s.mutate("edit_scene", func() error {
		entry, err := s.sceneAtLocked(sceneIndex)
		if err != nil {
			return err
		}
		return s.editSceneLocked(entry, field, value)
	})
}

// EditSceneFieldByID edits a scene field addressed by id
func (s *Store) EditSceneFieldByID(sceneID string, field models.SceneField, value string) error {
	return s.mutate("edit_scene", func() error {
		entry, err := s.sceneByIDLocked(sceneID)
		if err != nil {
			return err
		}
		return s.editSceneLocked(entry, field, value)
	})
}

func (s *Store) editSceneLocked(entry *sceneEntry, field models.SceneField, value string) error {
	edited := entry.scene
	if err := models.ApplySceneField(&edited, field, value); err != nil {
		return apperrors.NewValidationError("edit scene", err)
	}
	entry.scene = edited
	entry.revision = s.tick()
	return nil
}

// EditShotField edits a shot field in place
func (s *Store) EditShotField(sceneIndex, shotIndex int, field models.ShotField, value string) error {
	return s.mutate("edit_shot", func() error {
		scene, shot, err := s.shotAtLocked(sceneIndex, shotIndex)
		if err != nil {
			return err
		}
		return s.editShotLocked(scene, shot, field, value)
	})
}

// EditShotFieldByID edits a shot field addressed by ids
func (s *Store) EditShotFieldByID(sceneID, shotID string, field models.ShotField, value string) error {
	return s.mutate("edit_shot", func() error {
		scene, shot, err := s.shotByIDLocked(sceneID, shotID)
		if err != nil {
			return err
		}
		return s.editShotLocked(scene, shot, field, value)
	})
}

func (s *Store) editShotLocked(scene *sceneEntry, shot *shotEntry, field models.ShotField, value string) error {
	edited := shot.shot
	if err := models.ApplyShotField(&edited, field, value); err != nil {
		return apperrors.NewValidationError("edit shot", err)
	}
	shot.shot = edited
	shot.revision = s.tick()
	scene.revision = s.tick()
	return nil
}

// InsertShotAt synchronously inserts shot right after afterShotIndex
// (-1 inserts at the front). Out of range indices leave the store untouched.
func (s *Store) InsertShotAt(sceneIndex, afterShotIndex int, shot models.Shot) error {
	return s.mutate("insert_shot", func() error {
		scene, err := s.sceneAtLocked(sceneIndex)
		if err != nil {
			return err
		}
		if afterShotIndex < -1 || afterShotIndex >= len(scene.shots) {
			return apperrors.NewIndexOutOfRange(indexMessage("shot", afterShotIndex, len(scene.shots)))
		}
		s.insertLocked(scene, afterShotIndex+1, shot)
		return nil
	})
}

func (s *Store) insertLocked(scene *sceneEntry, position int, shot models.Shot) {
	shot.ID = s.newID()
	entry := &shotEntry{shot: shot, revision: s.tick()}

	scene.shots = append(scene.shots, nil)
	copy(scene.shots[position+1:], scene.shots[position:])
	scene.shots[position] = entry

	scene.revision = s.tick()
	s.generation++
}

// DeleteShot removes the shot at (sceneIndex, shotIndex) of the tree rendered
// at generation. It reports whether a shot was removed. Positions are only
// meaningful for the generation they were rendered from, so a repeated call
// with the same generation is a no-op, as are out of range positions.
func (s *Store) DeleteShot(generation uint64, sceneIndex, shotIndex int) bool {
	err := s.mutate("delete_shot", func() error {
		if generation != s.generation {
			return apperrors.NewStaleResponse("positions were rendered from an older generation")
		}
		scene, _, err := s.shotAtLocked(sceneIndex, shotIndex)
		if err != nil {
			return err
		}
		s.deleteShotLocked(scene, shotIndex)
		return nil
	})
	return err == nil
}

// DeleteShotByID removes a shot by identity. Deleting an absent shot is a no-op,
// so a delete control activated twice removes exactly one shot.
func (s *Store) DeleteShotByID(sceneID, shotID string) bool {
	err := s.mutate("delete_shot", func() error {
		scene, err := s.sceneByIDLocked(sceneID)
		if err != nil {
			return err
		}
		index := scene.indexOfShot(shotID)
		if index < 0 {
			return apperrors.NewNotFoundError("shot already removed", nil)
		}
		s.deleteShotLocked(scene, index)
		return nil
	})
	return err == nil
}

func (s *Store) deleteShotLocked(scene *sceneEntry, index int) {
	scene.shots = append(scene.shots[:index], scene.shots[index+1:]...)
	scene.revision = s.tick()
	s.generation++
}

// DeleteScene removes the scene at sceneIndex of the tree rendered at
// generation. Stale generations and out of range indices are a no-op.
func (s *Store) DeleteScene(generation uint64, sceneIndex int) bool {
	err := s.mutate("delete_scene", func() error {
		if generation != s.generation {
			return apperrors.NewStaleResponse("positions were rendered from an older generation")
		}
		entry, err := s.sceneAtLocked(sceneIndex)
		if err != nil {
			return err
		}
		s.deleteSceneLocked(entry, sceneIndex)
		return nil
	})
	return err == nil
}

// DeleteSceneByID removes a scene by identity. Absent scenes are a no-op.
func (s *Store) DeleteSceneByID(sceneID string) bool {
	err := s.mutate("delete_scene", func() error {
		index, _, ok := s.locateLocked(sceneID, "")
		if !ok {
			return apperrors.NewNotFoundError("scene already removed", nil)
		}
		s.deleteSceneLocked(s.scenes[index], index)
		return nil
	})
	return err == nil
}

func (s *Store) deleteSceneLocked(entry *sceneEntry, index int) {
	s.scenes = append(s.scenes[:index], s.scenes[index+1:]...)
	delete(s.sceneByID, entry.scene.ID)
	s.generation++
}

func indexMessage(kind string, index, length int) string {
	return fmt.Sprintf("%s index %d out of range [0,%d)", kind, index, length)
}
