package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	fgGray   = "\033[90m"
	fgGreen  = "\033[32m"
	fgYellow = "\033[33m"
	fgBlue   = "\033[34m"
	fgRed    = "\033[31m"
)

// Printer writes themed output. Color is applied only when enabled.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	theme  Theme
	color  bool
}

// NewPrinter creates a printer. The mono theme never colors.
func NewPrinter(out, errOut io.Writer, theme string, color bool) *Printer {
	t := ThemeByName(theme)
	return &Printer{out: out, errOut: errOut, theme: t, color: color && !t.Mono}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) Theme() Theme { return p.theme }

func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) C(color, s string) string {
	if !p.color || color == "" {
		return s
	}
	return color + s + reset
}

func (p *Printer) OK(msg string) {
	fmt.Fprintln(p.out, p.C(fgGreen, p.theme.SymDone+" "+msg))
}

func (p *Printer) Fail(msg string) {
	fmt.Fprintln(p.errOut, p.C(fgRed, p.theme.SymFail+" "+msg))
}

// Hint prints a muted line on the error stream.
func (p *Printer) Hint(msg string) {
	fmt.Fprintln(p.errOut, p.C(fgGray, msg))
}
