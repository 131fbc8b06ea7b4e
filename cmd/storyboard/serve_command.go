// cmd/storyboard/serve_command.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/Corphon/StoryboardStudio/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			application, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides the config)")

	return cmd
}
