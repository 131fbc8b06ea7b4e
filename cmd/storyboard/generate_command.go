// cmd/storyboard/generate_command.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Corphon/StoryboardStudio/internal/models"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var settings models.PromptSettings
	var output outputFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a storyboard from a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			session := newSession(cfg, cliLogger(cmd.ErrOrStderr()))
			defer session.Close()

			if err := session.Generate(cmd.Context(), settings); err != nil {
				return fmt.Errorf("generate storyboard: %w", err)
			}
			return output.write(cmd, session.Store().Snapshot())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&settings.Prompt, "prompt", "p", "", "Story prompt")
	flags.StringVar(&settings.Style, "style", "", "Visual style: cinematic, realism, anime or comic")
	flags.StringVar(&settings.Character, "character", "", "Main character description")
	flags.StringVar(&settings.Camera, "camera", "", "Preferred camera angle")
	_ = cmd.MarkFlagRequired("prompt")
	output.register(cmd)

	return cmd
}
