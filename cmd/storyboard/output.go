// cmd/storyboard/output.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

type outputFlags struct {
	json  bool
	out   string
	color string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&o.json, "json", false, "Write the storyboard as JSON instead of text")
	flags.StringVarP(&o.out, "out", "o", "", "Write to this file instead of stdout")
	flags.StringVar(&o.color, "color", "auto", "Colorize text output: auto, always or never")
}

// write renders snapshot in the selected format
func (o *outputFlags) write(cmd *cobra.Command, snapshot store.Snapshot) error {
	w := cmd.OutOrStdout()
	if o.out != "" {
		file, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		w = file
	}

	if o.json {
		return writeJSON(w, snapshot.Storyboard)
	}

	colorize, err := o.colorize(w)
	if err != nil {
		return err
	}
	return view.RenderText(w, view.Project(snapshot), view.TextOptions{Color: colorize})
}

func (o *outputFlags) colorize(w io.Writer) (bool, error) {
	switch o.color {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		return shouldColorize(w), nil
	default:
		return false, fmt.Errorf("invalid --color %q: use auto, always or never", o.color)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
