package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryboardStudio/internal/backend/backendtest"
	"github.com/Corphon/StoryboardStudio/internal/models"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORYBOARD_CONFIG", "")
	t.Setenv("BACKEND_URL", "")

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), err
}

func TestGenerateRendersText(t *testing.T) {
	server := backendtest.NewServer(backendtest.SampleStoryboard())
	defer server.Close()

	out, err := runCLI(t, "", "generate", "--backend", server.URL, "--prompt", "a hero's journey", "--style", "anime")
	require.NoError(t, err)

	first := strings.Index(out, "The Call")
	last := strings.Index(out, "The Escape")
	require.NotEqual(t, -1, first)
	require.Greater(t, last, first)
	require.Contains(t, out, "\"It can't be.\"")
	require.NotContains(t, out, "\x1b[")

	requests := server.Requests("/generate-storyboard")
	require.Len(t, requests, 1)
	var req models.GenerateStoryboardRequest
	require.NoError(t, json.Unmarshal(requests[0], &req))
	require.Equal(t, "anime", req.Style)
}

func TestGenerateWritesJSONFile(t *testing.T) {
	server := backendtest.NewServer(backendtest.SampleStoryboard())
	defer server.Close()

	path := filepath.Join(t.TempDir(), "board.json")
	out, err := runCLI(t, "", "generate", "--backend", server.URL, "-p", "x", "--json", "-o", path)
	require.NoError(t, err)
	require.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var board models.Storyboard
	require.NoError(t, json.Unmarshal(data, &board))
	require.Len(t, board.Scenes, 3)
	require.Equal(t, "Scene 1", board.Scenes[0].DisplayLabel())

	// the saved file renders offline
	out, err = runCLI(t, "", "render", path, "--color", "never")
	require.NoError(t, err)
	require.Contains(t, out, "The Journey")
}

func TestGenerateRequiresPrompt(t *testing.T) {
	_, err := runCLI(t, "", "generate", "--backend", "http://127.0.0.1:1")
	require.ErrorContains(t, err, "prompt")
}

func TestGenerateBackendFailure(t *testing.T) {
	server := backendtest.NewServer(backendtest.SampleStoryboard())
	defer server.Close()
	server.FailNext("/generate-storyboard", 500)

	_, err := runCLI(t, "", "generate", "--backend", server.URL, "-p", "x")
	require.ErrorContains(t, err, "generate storyboard")
}

func TestRenderFromStdin(t *testing.T) {
	input := `{"storyboard":[{"scene_number":"2","title":"Second","shots":[]},{"scene_number":1,"title":"First","shots":[{"frame_number":1,"description":"Opening","dialogue":"none"}]}]}`

	out, err := runCLI(t, input, "render", "-")
	require.NoError(t, err)
	require.Less(t, strings.Index(out, "First"), strings.Index(out, "Second"))
	require.Contains(t, out, "Opening")
	require.Contains(t, out, "(not generated)")
}

func TestRenderEmptyAndInvalid(t *testing.T) {
	out, err := runCLI(t, `{"storyboard":[]}`, "render", "-")
	require.NoError(t, err)
	require.Equal(t, "No storyboard generated yet.\n", out)

	_, err = runCLI(t, `not json`, "render", "-")
	require.ErrorContains(t, err, "parse storyboard")

	_, err = runCLI(t, `{"storyboard":[]}`, "render", "-", "--color", "rainbow")
	require.ErrorContains(t, err, "invalid --color")
}
