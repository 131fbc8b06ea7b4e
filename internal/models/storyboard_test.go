package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrdinalUnmarshal(t *testing.T) {
	cases := map[string]Ordinal{
		`3`:          3,
		`"7"`:        7,
		`"Scene 12"`: 12,
		`"Frame 4:"`: 4,
		`null`:       0,
		`""`:         0,
		`2.0`:        2,
	}
	for input, want := range cases {
		var got Ordinal
		require.NoError(t, json.Unmarshal([]byte(input), &got), input)
		require.Equal(t, want, got, input)
	}

	var bad Ordinal
	require.Error(t, json.Unmarshal([]byte(`"Prologue"`), &bad))
	require.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

func TestParseLabelNumber(t *testing.T) {
	n, ok := ParseLabelNumber("Scene 10")
	require.True(t, ok)
	require.Equal(t, 10, n)

	n, ok = ParseLabelNumber("Act II, scene #3.")
	require.True(t, ok)
	require.Equal(t, 3, n)

	_, ok = ParseLabelNumber("Epilogue")
	require.False(t, ok)
}

func TestSceneDecodeLegacyKeys(t *testing.T) {
	var scene Scene
	payload := `{"scene": "Scene 2", "scene_number": "2", "title": "Market",
		"description": "A busy market", "shots": [{"frame_number": 1, "dialogue": "none"}]}`
	require.NoError(t, json.Unmarshal([]byte(payload), &scene))

	require.Equal(t, "Scene 2", scene.DisplayLabel())
	require.Equal(t, "A busy market", scene.NarrativeText())
	require.Len(t, scene.Shots, 1)
	require.False(t, scene.Shots[0].HasDialogue())

	unlabeled := Scene{SceneNumber: 5}
	require.Equal(t, "Scene 5", unlabeled.DisplayLabel())
}

func TestHasDialogue(t *testing.T) {
	for _, line := range []string{"", "   ", "none", "NONE", " None "} {
		shot := Shot{Dialogue: line}
		require.False(t, shot.HasDialogue(), "%q", line)
	}
	shot := Shot{Dialogue: "Nonetheless, we go."}
	require.True(t, shot.HasDialogue())
}

func TestApplyFields(t *testing.T) {
	scene := Scene{Description: "old"}
	require.NoError(t, ApplySceneField(&scene, SceneFieldNarrative, "new"))
	require.Equal(t, "new", scene.NarrativeText())
	require.NoError(t, ApplySceneField(&scene, SceneFieldStyle, " Anime "))
	require.Equal(t, StyleAnime, scene.SceneStyle)
	require.NoError(t, ApplySceneField(&scene, SceneFieldStyle, ""))
	require.Equal(t, SceneStyle(""), scene.SceneStyle)
	require.Error(t, ApplySceneField(&scene, SceneFieldStyle, "watercolor"))
	require.Error(t, ApplySceneField(&scene, SceneField("mood"), "x"))

	shot := Shot{}
	require.NoError(t, ApplyShotField(&shot, ShotFieldFrameNumber, " 9 "))
	require.Equal(t, Ordinal(9), shot.FrameNumber)
	require.Error(t, ApplyShotField(&shot, ShotFieldFrameNumber, "nine"))
	require.NoError(t, ApplyShotField(&shot, ShotFieldDialogue, "Hello"))
	require.True(t, shot.HasDialogue())
}

func TestCloneIsDeep(t *testing.T) {
	board := Storyboard{Scenes: []Scene{{Title: "A", Shots: []Shot{{Description: "x"}}}}}
	clone := board.Clone()
	clone.Scenes[0].Shots[0].Description = "changed"
	clone.Scenes[0].Title = "B"

	require.Equal(t, "x", board.Scenes[0].Shots[0].Description)
	require.Equal(t, "A", board.Scenes[0].Title)
}
