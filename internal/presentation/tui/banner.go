package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the max banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct{ text, color string }{
		{"  _ __ ___   __ ___  __", "#818cf8"},
		{" | '_ ` _ \\ / _` \\ \\/ /", "#a78bfa"},
		{" | | | | | | (_| |>  < ", "#c084fc"},
		{" |_| |_| |_|\\__,_/_/\\_\\", "#e879f9"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
