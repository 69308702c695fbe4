package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter reads answers from stdin. On a terminal the password is read
// with echo disabled; otherwise one line is read, so scripts can pipe it.
type prompter struct {
	in     io.Reader
	lines  *bufio.Reader
	errOut io.Writer
}

func newPrompter(in io.Reader, errOut io.Writer) *prompter {
	return &prompter{in: in, lines: bufio.NewReader(in), errOut: errOut}
}

func (p *prompter) terminalFd() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

func (p *prompter) readLine() (string, error) {
	line, err := p.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", NewExitError(ExitUsage, "unexpected end of input")
		}
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Line returns value when set, otherwise asks for it.
func (p *prompter) Line(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	if _, ok := p.terminalFd(); ok {
		fmt.Fprint(p.errOut, label+": ")
	}
	v, err := p.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func (p *prompter) Password(label string) (string, error) {
	fd, ok := p.terminalFd()
	if !ok {
		return p.readLine()
	}
	fmt.Fprint(p.errOut, label+": ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.errOut)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}
