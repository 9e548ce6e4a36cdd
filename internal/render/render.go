// Package render draws colorized output and dashboard views on a terminal.
package render

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"taskdeck/internal/colorize"
)

// Color modes accepted by New.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

type Renderer struct {
	w  io.Writer
	lr *lipgloss.Renderer
	th theme
}

// New renders to w. ColorAuto detects the terminal behind w.
func New(w io.Writer, mode string) *Renderer {
	lr := lipgloss.NewRenderer(w)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ColorAlways:
		lr.SetColorProfile(termenv.TrueColor)
	case ColorNever:
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{w: w, lr: lr, th: newTheme(lr)}
}

// NewWithProfile pins the color profile.
func NewWithProfile(w io.Writer, profile termenv.Profile) *Renderer {
	lr := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	lr.SetColorProfile(profile)
	return &Renderer{w: w, lr: lr, th: newTheme(lr)}
}

func (r *Renderer) Writer() io.Writer {
	return r.w
}

// Segments renders styled output segments. Each line is styled on its own so
// lipgloss does not pad lines to a common width.
func (r *Renderer) Segments(segs []colorize.Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if seg.Text == "" {
			continue
		}
		style := r.lr.NewStyle().
			Foreground(lipgloss.Color(seg.Foreground())).
			Bold(seg.Bold).
			TabWidth(lipgloss.NoTabConversion)
		for i, line := range strings.Split(seg.Text, "\n") {
			if i > 0 {
				b.WriteByte('\n')
			}
			if line != "" {
				b.WriteString(style.Render(line))
			}
		}
	}
	return b.String()
}

func (r *Renderer) WriteSegments(segs []colorize.Segment) error {
	out := r.Segments(segs)
	if out == "" {
		return nil
	}
	_, err := io.WriteString(r.w, out)
	return err
}
