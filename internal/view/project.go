// internal/view/project.go

// Package view derives what the presentation shell displays from a store
// snapshot. Project is a pure function; the Projector re-runs it after every
// store mutation and mounts the result on the registered sinks.
package view

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/store"
)

// Action identifies what a control does when activated
type Action string

const (
	ActionEditSceneField  Action = "edit_scene_field"
	ActionRegenerateScene Action = "regenerate_scene"
	ActionDeleteScene     Action = "delete_scene"
	ActionEditShotField   Action = "edit_shot_field"
	ActionRegenerateShot  Action = "regenerate_shot"
	ActionAddShotBelow    Action = "add_shot_below"
	ActionDeleteShot      Action = "delete_shot"
	ActionDownload        Action = "download"
)

// RenderTree is everything the shell needs to draw the result area.
// Positional store calls made from it take its Generation.
type RenderTree struct {
	Epoch      uint64      `json:"epoch"`
	Generation uint64      `json:"generation"`
	Empty      bool        `json:"empty"`
	Scenes     []SceneView `json:"scenes"`
}

// SceneView is one rendered scene
type SceneView struct {
	ID        string     `json:"id"`
	Index     int        `json:"index"`
	Label     string     `json:"label"`
	Heading   string     `json:"heading"`
	Title     string     `json:"title"`
	Narrative string     `json:"narrative"`
	Style     string     `json:"style"`
	Controls  []Control  `json:"controls"`
	Shots     []ShotView `json:"shots"`
}

// ShotView is one rendered shot
type ShotView struct {
	ID          string    `json:"id"`
	Index       int       `json:"index"`
	FrameLabel  string    `json:"frame_label"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description"`
	CameraAngle string    `json:"camera_angle"`
	ShotType    string    `json:"shot_type"`
	Emotion     string    `json:"emotion"`
	Meta        string    `json:"meta"`
	Dialogue    string    `json:"dialogue,omitempty"`
	Controls    []Control `json:"controls"`
}

// Control is an interactive element. It carries the positions and ids of its
// target as they were when the tree was rendered.
type Control struct {
	Action     Action    `json:"action"`
	Label      string    `json:"label"`
	SceneIndex int       `json:"scene_index"`
	ShotIndex  int       `json:"shot_index"`
	SceneID    string    `json:"scene_id"`
	ShotID     string    `json:"shot_id,omitempty"`
	Field      string    `json:"field,omitempty"`
	Value      string    `json:"value,omitempty"`
	Options    []Option  `json:"options,omitempty"`
	Download   *Download `json:"download,omitempty"`
	Disabled   bool      `json:"disabled,omitempty"`
}

// Option is one entry of a selector control
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Download is handed to the shell's file download mechanism
type Download struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Project builds the render tree for snapshot
func Project(snapshot store.Snapshot) RenderTree {
	tree := RenderTree{
		Epoch:      snapshot.Epoch,
		Generation: snapshot.Generation,
		Empty:      len(snapshot.Storyboard.Scenes) == 0,
		Scenes:     make([]SceneView, 0, len(snapshot.Storyboard.Scenes)),
	}
	for i, scene := range snapshot.Storyboard.Scenes {
		tree.Scenes = append(tree.Scenes, projectScene(i, scene))
	}
	return tree
}

func projectScene(index int, scene models.Scene) SceneView {
	label := scene.DisplayLabel()
	heading := label
	if title := strings.TrimSpace(scene.Title); title != "" {
		heading = label + ": " + title
	}

	view := SceneView{
		ID:        scene.ID,
		Index:     index,
		Label:     label,
		Heading:   heading,
		Title:     scene.Title,
		Narrative: scene.NarrativeText(),
		Style:     string(scene.SceneStyle),
		Shots:     make([]ShotView, 0, len(scene.Shots)),
	}

	target := Control{SceneIndex: index, ShotIndex: -1, SceneID: scene.ID}
	view.Controls = []Control{
		sceneInput(target, "Title", models.SceneFieldTitle, scene.Title),
		sceneInput(target, "Narrative", models.SceneFieldNarrative, scene.NarrativeText()),
		styleSelector(target, scene.SceneStyle),
		target.with(ActionRegenerateScene, "Regenerate Scene"),
		target.with(ActionDeleteScene, "Delete Scene"),
	}

	for j, shot := range scene.Shots {
		view.Shots = append(view.Shots, projectShot(index, j, label, scene.ID, shot))
	}
	return view
}

func projectShot(sceneIndex, shotIndex int, sceneLabel, sceneID string, shot models.Shot) ShotView {
	view := ShotView{
		ID:          shot.ID,
		Index:       shotIndex,
		FrameLabel:  fmt.Sprintf("Frame %d", int(shot.FrameNumber)),
		ImageURL:    shot.ImageURL,
		Description: shot.Description,
		CameraAngle: shot.CameraAngle,
		ShotType:    shot.ShotType,
		Emotion:     shot.Emotion,
		Meta:        shotMeta(shot),
	}
	if shot.HasDialogue() {
		view.Dialogue = `"` + strings.TrimSpace(shot.Dialogue) + `"`
	}

	target := Control{SceneIndex: sceneIndex, ShotIndex: shotIndex, SceneID: sceneID, ShotID: shot.ID}

	download := target.with(ActionDownload, "Download Image")
	download.Download = &Download{URL: shot.ImageURL, Filename: DownloadFilename(sceneLabel, shot.FrameNumber)}
	download.Disabled = shot.ImageURL == ""

	description := target.with(ActionEditShotField, "Description")
	description.Field = string(models.ShotFieldDescription)
	description.Value = shot.Description

	view.Controls = []Control{
		description,
		download,
		target.with(ActionRegenerateShot, "Regenerate"),
		target.with(ActionAddShotBelow, "Add Shot Below"),
		target.with(ActionDeleteShot, "Delete"),
	}
	return view
}

func (c Control) with(action Action, label string) Control {
	c.Action = action
	c.Label = label
	return c
}

func sceneInput(target Control, label string, field models.SceneField, value string) Control {
	control := target.with(ActionEditSceneField, label)
	control.Field = string(field)
	control.Value = value
	return control
}

func styleSelector(target Control, current models.SceneStyle) Control {
	control := target.with(ActionEditSceneField, "Scene Style")
	control.Field = string(models.SceneFieldStyle)
	control.Value = string(current)
	control.Options = []Option{{Value: "", Label: "Default", Selected: current == ""}}
	for _, style := range models.SceneStyles() {
		control.Options = append(control.Options, Option{
			Value:    string(style),
			Label:    StyleLabel(style),
			Selected: style == current,
		})
	}
	return control
}

// StyleLabel returns the human readable name of a style
func StyleLabel(style models.SceneStyle) string {
	return cases.Title(language.English).String(string(style))
}

func shotMeta(shot models.Shot) string {
	parts := make([]string, 0, 3)
	if shot.CameraAngle != "" {
		parts = append(parts, "Camera: "+shot.CameraAngle)
	}
	if shot.ShotType != "" {
		parts = append(parts, "Type: "+shot.ShotType)
	}
	if shot.Emotion != "" {
		parts = append(parts, "Emotion: "+shot.Emotion)
	}
	return strings.Join(parts, " | ")
}

var filenameReplacer = strings.NewReplacer("/", "-", "\\", "-", ":", "", "\"", "", "*", "", "?", "", "<", "", ">", "", "|", "")

// DownloadFilename suggests "<scene label> - Frame <n>.png" for a shot image
func DownloadFilename(sceneLabel string, frame models.Ordinal) string {
	name := strings.TrimSpace(filenameReplacer.Replace(sceneLabel))
	if name == "" {
		name = "Scene"
	}
	return fmt.Sprintf("%s - Frame %d.png", name, int(frame))
}
