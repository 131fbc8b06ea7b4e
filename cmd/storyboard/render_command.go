// cmd/storyboard/render_command.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/StoryboardStudio/internal/models"
	"github.com/Corphon/StoryboardStudio/internal/store"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var output outputFlags

	cmd := &cobra.Command{
		Use:   "render <file|->",
		Short: "Render a saved storyboard JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			board, err := readStoryboard(cmd, args[0])
			if err != nil {
				return err
			}

			s := store.New(store.Options{Ordering: store.Ordering(cfg.SceneOrdering)})
			s.Load(board)
			return output.write(cmd, s.Snapshot())
		},
	}
	output.register(cmd)

	return cmd
}

func readStoryboard(cmd *cobra.Command, path string) (models.Storyboard, error) {
	var reader io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return models.Storyboard{}, fmt.Errorf("open storyboard: %w", err)
		}
		defer file.Close()
		reader = file
	}

	var board models.Storyboard
	if err := json.NewDecoder(reader).Decode(&board); err != nil {
		return models.Storyboard{}, fmt.Errorf("parse storyboard: %w", err)
	}
	return board, nil
}
