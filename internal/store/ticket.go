// internal/store/ticket.go
package store

import (
	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/models"
)

// TicketKind names the asynchronous operation a ticket was captured for
type TicketKind string

const (
	KindScene     TicketKind = "scene_regeneration"
	KindShot      TicketKind = "shot_regeneration"
	KindInsertion TicketKind = "shot_insertion"
)

// Reasons reported when a result is discarded
const (
	ReasonReloaded          = "storyboard_reloaded"
	ReasonGenerationChanged = "generation_changed"
	ReasonSceneRemoved      = "scene_removed"
	ReasonSceneModified     = "scene_modified"
	ReasonShotRemoved       = "shot_removed"
	ReasonShotModified      = "shot_modified"
	ReasonAnchorRemoved     = "anchor_removed"
)

// Ticket records what an asynchronous request was issued against.
// For insertions ShotID is the anchor shot; empty inserts at the front.
type Ticket struct {
	Kind          TicketKind
	SceneID       string
	ShotID        string
	SceneIndex    int
	ShotIndex     int
	Epoch         uint64
	Generation    uint64
	SceneRevision uint64
	ShotRevision  uint64
}

// Capture is a ticket plus copies of the entities the request is built from
type Capture struct {
	Ticket Ticket
	Scene  models.Scene
	Shot   models.Shot
}

// CaptureScene prepares the regeneration of the scene at sceneIndex
func (s *Store) CaptureScene(sceneIndex int) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, err := s.sceneAtLocked(sceneIndex)
	if err != nil {
		return Capture{}, err
	}
	return Capture{
		Ticket: s.ticketLocked(KindScene, scene, nil, sceneIndex, -1),
		Scene:  scene.materialize(),
	}, nil
}

// CaptureShot prepares the regeneration of the shot at (sceneIndex, shotIndex)
func (s *Store) CaptureShot(sceneIndex, shotIndex int) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, shot, err := s.shotAtLocked(sceneIndex, shotIndex)
	if err != nil {
		return Capture{}, err
	}
	return Capture{
		Ticket: s.ticketLocked(KindShot, scene, shot, sceneIndex, shotIndex),
		Scene:  scene.materialize(),
		Shot:   shot.shot,
	}, nil
}

// CaptureInsertion prepares the insertion of a shot after afterShotIndex.
// An afterShotIndex of -1 targets the front of the scene.
func (s *Store) CaptureInsertion(sceneIndex, afterShotIndex int) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, err := s.sceneAtLocked(sceneIndex)
	if err != nil {
		return Capture{}, err
	}
	if afterShotIndex == -1 {
		return Capture{
			Ticket: s.ticketLocked(KindInsertion, scene, nil, sceneIndex, -1),
			Scene:  scene.materialize(),
		}, nil
	}

	_, anchor, err := s.shotAtLocked(sceneIndex, afterShotIndex)
	if err != nil {
		return Capture{}, err
	}
	return Capture{
		Ticket: s.ticketLocked(KindInsertion, scene, anchor, sceneIndex, afterShotIndex),
		Scene:  scene.materialize(),
		Shot:   anchor.shot,
	}, nil
}

func (s *Store) ticketLocked(kind TicketKind, scene *sceneEntry, shot *shotEntry, sceneIndex, shotIndex int) Ticket {
	ticket := Ticket{
		Kind:          kind,
		SceneID:       scene.scene.ID,
		SceneIndex:    sceneIndex,
		ShotIndex:     shotIndex,
		Epoch:         s.epoch,
		Generation:    s.generation,
		SceneRevision: scene.revision,
	}
	if shot != nil {
		ticket.ShotID = shot.shot.ID
		ticket.ShotRevision = shot.revision
	}
	return ticket
}

// validateLocked returns the discard reason for t, or "" when t still applies
func (s *Store) validateLocked(t Ticket) (reason string, scene *sceneEntry, shotIndex int) {
	if t.Epoch != s.epoch {
		return ReasonReloaded, nil, -1
	}
	if s.policy == PolicyGeneration && t.Generation != s.generation {
		return ReasonGenerationChanged, nil, -1
	}

	scene, ok := s.sceneByID[t.SceneID]
	if !ok {
		return ReasonSceneRemoved, nil, -1
	}

	switch t.Kind {
	case KindScene:
		if scene.revision != t.SceneRevision {
			return ReasonSceneModified, nil, -1
		}
		return "", scene, -1
	case KindShot:
		index := scene.indexOfShot(t.ShotID)
		if index < 0 {
			return ReasonShotRemoved, nil, -1
		}
		if scene.shots[index].revision != t.ShotRevision {
			return ReasonShotModified, nil, -1
		}
		return "", scene, index
	default:
		if t.ShotID == "" {
			return "", scene, -1
		}
		index := scene.indexOfShot(t.ShotID)
		if index < 0 {
			return ReasonAnchorRemoved, nil, -1
		}
		return "", scene, index
	}
}

// IsStale reports whether a result for t would be discarded right now
func (s *Store) IsStale(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, _, _ := s.validateLocked(t)
	return reason != ""
}

func (s *Store) discard(t Ticket, reason string) error {
	s.metrics.RecordStaleDiscard(string(t.Kind), reason, map[string]interface{}{
		"scene_id":    t.SceneID,
		"shot_id":     t.ShotID,
		"scene_index": t.SceneIndex,
		"shot_index":  t.ShotIndex,
	})
	return apperrors.NewStaleResponse(string(t.Kind) + " result discarded: " + reason)
}

// ApplySceneRegeneration replaces the scene targeted by t. Narrative fields
// come from the result; the scene keeps its id and position. Shots echoed back
// with a known id, or matching an existing shot by position, keep that id.
func (s *Store) ApplySceneRegeneration(t Ticket, regenerated models.Scene) error {
	return s.mutate("regenerate_scene", func() error {
		reason, scene, _ := s.validateLocked(t)
		if reason != "" {
			return s.discard(t, reason)
		}

		previous := scene.shots
		known := make(map[string]bool, len(previous))
		for _, shot := range previous {
			known[shot.shot.ID] = true
		}

		used := make(map[string]bool, len(regenerated.Shots))
		shots := make([]*shotEntry, 0, len(regenerated.Shots))
		for i, shot := range regenerated.Shots {
			id := shot.ID
			if !known[id] || used[id] {
				id = ""
				if i < len(previous) && !used[previous[i].shot.ID] {
					id = previous[i].shot.ID
				}
			}
			if id == "" {
				id = s.newID()
			}
			used[id] = true
			shot.ID = id
			shots = append(shots, &shotEntry{shot: shot, revision: s.tick()})
		}

		id := scene.scene.ID
		scene.scene = regenerated
		scene.scene.ID = id
		scene.scene.Shots = nil
		scene.shots = shots
		scene.revision = s.tick()
		s.generation++
		return nil
	})
}

// ApplyShotRegeneration replaces the shot targeted by t, keeping its id and position
func (s *Store) ApplyShotRegeneration(t Ticket, regenerated models.Shot) error {
	return s.mutate("regenerate_shot", func() error {
		reason, scene, index := s.validateLocked(t)
		if reason != "" {
			return s.discard(t, reason)
		}

		target := scene.shots[index]
		regenerated.ID = target.shot.ID
		target.shot = regenerated
		target.revision = s.tick()
		scene.revision = s.tick()
		return nil
	})
}

// InsertShot places shot right after the anchor recorded in t, at the anchor's
// current position. The new shot gets a fresh id.
func (s *Store) InsertShot(t Ticket, shot models.Shot) error {
	return s.mutate("insert_shot", func() error {
		reason, scene, anchor := s.validateLocked(t)
		if reason != "" {
			return s.discard(t, reason)
		}
		s.insertLocked(scene, anchor+1, shot)
		return nil
	})
}
