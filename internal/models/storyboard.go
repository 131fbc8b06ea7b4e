// internal/models/storyboard.go
package models

import (
	"fmt"
	"strings"
)

// SceneStyle is the rendering style requested for a scene
type SceneStyle string

const (
	StyleCinematic SceneStyle = "cinematic"
	StyleRealism   SceneStyle = "realism"
	StyleAnime     SceneStyle = "anime"
	StyleComic     SceneStyle = "comic"
)

// SceneStyles returns the fixed style enumeration in display order
func SceneStyles() []SceneStyle {
	return []SceneStyle{StyleCinematic, StyleRealism, StyleAnime, StyleComic}
}

// ParseSceneStyle validates a style value. The empty string means "no override".
func ParseSceneStyle(value string) (SceneStyle, error) {
	normalized := SceneStyle(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", nil
	}
	for _, style := range SceneStyles() {
		if style == normalized {
			return style, nil
		}
	}
	return "", fmt.Errorf("unknown scene style %q", value)
}

// Storyboard is the ordered list of scenes returned by a generation request
type Storyboard struct {
	Scenes []Scene `json:"storyboard"`
}

// Scene is a titled narrative unit holding an ordered list of shots
type Scene struct {
	ID          string     `json:"id,omitempty"`
	SceneNumber Ordinal    `json:"scene_number"`
	Label       string     `json:"scene,omitempty"` // legacy display label, e.g. "Scene 2"
	Title       string     `json:"title"`
	Narrative   string     `json:"narrative,omitempty"`
	Description string     `json:"description,omitempty"` // legacy narrative key
	SceneStyle  SceneStyle `json:"scene_style,omitempty"`
	Shots       []Shot     `json:"shots"`
}

// DisplayLabel returns the label shown above the scene
func (s *Scene) DisplayLabel() string {
	if label := strings.TrimSpace(s.Label); label != "" {
		return label
	}
	return fmt.Sprintf("Scene %d", int(s.SceneNumber))
}

// NarrativeText returns the narrative, falling back to the legacy description key
func (s *Scene) NarrativeText() string {
	if s.Narrative != "" {
		return s.Narrative
	}
	return s.Description
}

// Clone returns a deep copy of the scene
func (s Scene) Clone() Scene {
	clone := s
	if s.Shots != nil {
		clone.Shots = make([]Shot, len(s.Shots))
		copy(clone.Shots, s.Shots)
	}
	return clone
}

// Shot is a single generated frame with its cinematographic metadata
type Shot struct {
	ID          string  `json:"id,omitempty"`
	FrameNumber Ordinal `json:"frame_number"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
	CameraAngle string  `json:"camera_angle"`
	ShotType    string  `json:"shot_type"`
	Emotion     string  `json:"emotion"`
	Dialogue    string  `json:"dialogue,omitempty"`
}

// HasDialogue reports whether the shot carries a spoken line.
// Absence and the literal "none" (any case) both mean no dialogue.
func (s *Shot) HasDialogue() bool {
	line := strings.TrimSpace(s.Dialogue)
	return line != "" && !strings.EqualFold(line, "none")
}

// Clone returns a deep copy of the storyboard
func (b Storyboard) Clone() Storyboard {
	clone := Storyboard{}
	if b.Scenes != nil {
		clone.Scenes = make([]Scene, len(b.Scenes))
		for i, scene := range b.Scenes {
			clone.Scenes[i] = scene.Clone()
		}
	}
	return clone
}
