// internal/view/text.go
package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TextOptions controls terminal rendering
type TextOptions struct {
	Color bool
}

var (
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	narrativeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	styleTagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// RenderText writes a terminal rendition of tree to w
func RenderText(w io.Writer, tree RenderTree, opts TextOptions) error {
	if tree.Empty {
		_, err := fmt.Fprintln(w, "No storyboard generated yet.")
		return err
	}

	paint := func(style lipgloss.Style, s string) string {
		if !opts.Color {
			return s
		}
		return style.Render(s)
	}

	var b strings.Builder
	for i, scene := range tree.Scenes {
		if i > 0 {
			b.WriteString("\n")
		}
		heading := paint(headingStyle, scene.Heading)
		if scene.Style != "" {
			heading += " " + paint(styleTagStyle, "["+scene.Style+"]")
		}
		b.WriteString(heading + "\n")
		if scene.Narrative != "" {
			b.WriteString(paint(narrativeStyle, scene.Narrative) + "\n")
		}
		b.WriteString(renderShotTable(scene.Shots) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderShotTable(shots []ShotView) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Frame", "Description", "Camera", "Type", "Emotion", "Dialogue", "Image"})

	for _, shot := range shots {
		image := shot.ImageURL
		if image == "" {
			image = "(not generated)"
		}
		tw.AppendRow(table.Row{
			shot.FrameLabel,
			shot.Description,
			shot.CameraAngle,
			shot.ShotType,
			shot.Emotion,
			shot.Dialogue,
			image,
		})
	}
	if len(shots) == 0 {
		tw.AppendFooter(table.Row{"", "no shots"})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 2, WidthMax: 48},
		{Number: 6, WidthMax: 32},
	})
	return tw.Render()
}
