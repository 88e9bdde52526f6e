package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/okian/swapbridge/internal/domain/model"
)

// TerminalPrompter reads a username and a password from the controlling
// terminal. The password is read with echo disabled.
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// Prompt implements Prompter.
func (p *TerminalPrompter) Prompt(ctx context.Context) (model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return model.Credential{}, err
	}
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return model.Credential{}, ErrNoTerminal
	}

	fmt.Fprint(p.out, "Username: ")
	line, err := readLine(p.in)
	if err != nil && line == "" {
		return model.Credential{}, fmt.Errorf("reading username: %w", err)
	}

	fmt.Fprint(p.out, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return model.Credential{}, fmt.Errorf("reading password: %w", err)
	}

	return model.Credential{
		Username: strings.TrimSpace(line),
		Secret:   string(password),
	}, nil
}

// readLine reads through the next newline one byte at a time. Nothing past
// the newline is consumed from r.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return sb.String(), nil
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return sb.String(), err
		}
	}
}
