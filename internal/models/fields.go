// internal/models/fields.go
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SceneField names a user editable scene attribute
type SceneField string

const (
	SceneFieldTitle     SceneField = "title"
	SceneFieldNarrative SceneField = "narrative"
	SceneFieldStyle     SceneField = "scene_style"
)

// ShotField names a user editable shot attribute
type ShotField string

const (
	ShotFieldDescription ShotField = "description"
	ShotFieldCameraAngle ShotField = "camera_angle"
	ShotFieldShotType    ShotField = "shot_type"
	ShotFieldEmotion     ShotField = "emotion"
	ShotFieldDialogue    ShotField = "dialogue"
	ShotFieldImageURL    ShotField = "image_url"
	ShotFieldFrameNumber ShotField = "frame_number"
)

// ApplySceneField writes value into the named field of scene
func ApplySceneField(scene *Scene, field SceneField, value string) error {
	switch field {
	case SceneFieldTitle:
		scene.Title = value
	case SceneFieldNarrative:
		scene.Narrative = value
		scene.Description = ""
	case SceneFieldStyle:
		style, err := ParseSceneStyle(value)
		if err != nil {
			return err
		}
		scene.SceneStyle = style
	default:
		return fmt.Errorf("unknown scene field %q", field)
	}
	return nil
}

// ApplyShotField writes value into the named field of shot
func ApplyShotField(shot *Shot, field ShotField, value string) error {
	switch field {
	case ShotFieldDescription:
		shot.Description = value
	case ShotFieldCameraAngle:
		shot.CameraAngle = value
	case ShotFieldShotType:
		shot.ShotType = value
	case ShotFieldEmotion:
		shot.Emotion = value
	case ShotFieldDialogue:
		shot.Dialogue = value
	case ShotFieldImageURL:
		shot.ImageURL = value
	case ShotFieldFrameNumber:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("frame_number must be an integer: %w", err)
		}
		shot.FrameNumber = Ordinal(n)
	default:
		return fmt.Errorf("unknown shot field %q", field)
	}
	return nil
}
