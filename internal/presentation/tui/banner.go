package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the easel banner to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"   ___  ____ ____ ___  __ ", "#34d399"},
		{"  / _ \\/ __ `/ ___/ _ \\/ /", "#2dd4bf"},
		{" /  __/ /_/ (__  )  __/ / ", "#22d3ee"},
		{" \\___/\\__,_/____/\\___/_/  ", "#38bdf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String(" "+version).Faint())
	fmt.Fprintln(w)
}
