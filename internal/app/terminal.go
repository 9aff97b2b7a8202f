package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"drivesync/internal/ds"
)

// ErrNotInteractive is returned when a prompt needs a terminal and stdin is
// not one.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// TerminalConfirmer asks on the terminal before the Backup drive stands in
// for a missing Master. Without a terminal it declines.
type TerminalConfirmer struct {
	In  *os.File
	Out io.Writer
	// Assume answers every question without prompting when set (--yes).
	Assume bool
}

func (c *TerminalConfirmer) ConfirmBackupFallback(ctx context.Context, g ds.DriveGroup) (bool, error) {
	if c.Assume {
		return true, nil
	}
	if !term.IsTerminal(int(c.In.Fd())) {
		return false, nil
	}
	fmt.Fprintf(c.Out, "Master drive %s of group %q is not connected.\nUse Backup drive %s instead? [y/N] ",
		g.Master.String(), g.Name, g.Backup.String())
	return readYes(c.In)
}

func readYes(r io.Reader) (bool, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ReadPassword prompts on out and reads a password from in without echo.
// With confirm set the password is asked twice and must match.
func ReadPassword(in *os.File, out io.Writer, prompt string, confirm bool) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotInteractive
	}

	fmt.Fprint(out, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("empty password")
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(out, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

var _ ds.Confirmer = (*TerminalConfirmer)(nil)
