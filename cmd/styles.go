package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/fedmerge/util"
)

const (
	COLOR_GREY    = "241"
	COLOR_MAGENTA = "170"
	COLOR_RED     = "196"
)

var (
	CaptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_MAGENTA)).Bold(true)
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY)).PaddingLeft(2)
	MissStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_RED))
)

// render prints a caption followed by v as indented JSON
func render(w io.Writer, caption string, v any) {
	fmt.Fprintln(w, CaptionStyle.Render(caption))
	fmt.Fprintln(w, util.PrettyPrint(v))
}

func renderMiss(w io.Writer, msg string) {
	fmt.Fprintln(w, MissStyle.Render(msg))
}

func renderHelp(w io.Writer, msg string) {
	fmt.Fprintln(w, HelpStyle.Render(msg))
}
