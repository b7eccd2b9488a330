package diag

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"rsbridge/internal/errs"
	"rsbridge/internal/source"
)

// RenderOptions control Render output.
type RenderOptions struct {
	Color   bool
	Context int  // lines of context around each referenced line
	Raw     bool // append the full toolchain output
}

type palette struct {
	err, gutter, caret, help, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:    color.New(color.FgRed, color.Bold),
		gutter: color.New(color.FgBlue, color.Bold),
		caret:  color.New(color.FgRed),
		help:   color.New(color.FgCyan),
		dim:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.err, p.gutter, p.caret, p.help, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Render prints a build failure: headline, each referenced source line with
// context and an underline, heuristic suggestions, and optionally the raw
// toolchain output.
func Render(w io.Writer, be *errs.BuildError, opts RenderOptions) error {
	if be == nil {
		return nil
	}
	p := newPalette(opts.Color)
	var b strings.Builder

	b.WriteString(p.err.Sprint("error"))
	fmt.Fprintf(&b, ": %s\n", headline(be))

	width := len(strconv.Itoa(maxLine(be.Lines, opts.Context)))
	for _, ln := range be.Lines {
		fmt.Fprintf(&b, "%s %s\n", strings.Repeat(" ", width), p.gutter.Sprintf("--> line %d", ln))
		fmt.Fprintf(&b, "%s\n", p.gutter.Sprint(strings.Repeat(" ", width)+" |"))
		for n := max(1, ln-opts.Context); n <= ln+opts.Context; n++ {
			text, ok := source.Line(be.Source, n)
			if !ok {
				break
			}
			text = strings.ReplaceAll(text, "\t", "    ")
			gutter := p.gutter.Sprintf("%*d |", width, n)
			fmt.Fprintf(&b, "%s %s\n", gutter, text)
			if n == ln {
				pad, span := underline(text)
				fmt.Fprintf(&b, "%s %s%s\n",
					p.gutter.Sprint(strings.Repeat(" ", width)+" |"),
					strings.Repeat(" ", pad),
					p.caret.Sprint(strings.Repeat("^", span)))
			}
		}
	}
	for _, s := range be.Suggestions {
		fmt.Fprintf(&b, "%s = %s %s\n", strings.Repeat(" ", width), p.help.Sprint("help:"), s)
	}
	if opts.Raw && strings.TrimSpace(be.Raw) != "" {
		b.WriteString(p.dim.Sprintf("--- %s output ---", be.Toolchain))
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(be.Raw, "\n"))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ColorFor reports whether w is a terminal that should receive ANSI colors.
func ColorFor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) // #nosec G115
}

// RenderBag prints parser diagnostics against text, one per line.
func RenderBag(w io.Writer, text string, bag *Bag, useColor bool) error {
	p := newPalette(useColor)
	for _, d := range bag.Items() {
		label := p.help
		if d.Severity >= SevError {
			label = p.err
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", label.Sprint(d.Severity.String()), d.Format(text)); err != nil {
			return err
		}
	}
	return nil
}

func headline(be *errs.BuildError) string {
	for _, line := range strings.Split(be.Raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "error") {
			return line
		}
	}
	if be.Err != nil {
		return be.Toolchain + ": " + be.Err.Error()
	}
	return be.Toolchain + ": build failed"
}

// underline returns the display offset and width of the non-blank part of line.
func underline(line string) (pad, span int) {
	trimmed := strings.TrimLeft(line, " ")
	pad = runewidth.StringWidth(line[:len(line)-len(trimmed)])
	span = runewidth.StringWidth(strings.TrimRight(trimmed, " "))
	return pad, max(span, 1)
}

func maxLine(lines []int, context int) int {
	m := 1
	for _, l := range lines {
		m = max(m, l+context)
	}
	return m
}
