// Package confirm implements spec.md §4.5: producing a boolean approval for
// a (email, command-summary) pair via a GUI dialog, falling back to a TTY
// prompt, and denying outright if neither is available.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Timeout is the hard deadline for any confirmation channel: a GUI dialog
// or a TTY prompt that doesn't resolve within this window is treated as a
// denial.
const Timeout = 60 * time.Second

// Confirmer produces a boolean approval decision.
type Confirmer interface {
	Confirm(ctx context.Context, email string, summary string, hasSummary bool) (bool, error)
}

// guiResult is what a platform-specific GUI attempt reports.
type guiResult struct {
	approved bool
	notFound bool // the helper binary itself is missing; fall through to TTY
}

// guiConfirm is replaced per-OS by gui_linux.go / gui_darwin.go / gui_other.go.
var guiConfirm = func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
	return guiResult{notFound: true}, nil
}

// Dialog is the real Confirmer: GUI (platform-specific) -> TTY -> deny.
type Dialog struct {
	Timeout    time.Duration
	Stdin      *os.File
	isTerminal func(fd uintptr) bool
}

// NewDialog returns a Dialog using the real stdin and the standard 60s
// timeout.
func NewDialog() *Dialog {
	return &Dialog{
		Timeout:    Timeout,
		Stdin:      os.Stdin,
		isTerminal: func(fd uintptr) bool { return term.IsTerminal(int(fd)) },
	}
}

// Confirm implements Confirmer.
func (d *Dialog) Confirm(ctx context.Context, email string, summary string, hasSummary bool) (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = Timeout
	}
	guiCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := guiConfirm(guiCtx, email, summary, hasSummary)
	cancel()
	if err != nil {
		return false, fmt.Errorf("gui confirm: %w", err)
	}
	if !result.notFound {
		return result.approved, nil
	}

	if d.Stdin == nil || !d.isTerminal(d.Stdin.Fd()) {
		return false, nil
	}
	return d.ttyConfirm(ctx, email, summary, hasSummary, timeout)
}

func (d *Dialog) ttyConfirm(ctx context.Context, email, summary string, hasSummary bool, timeout time.Duration) (bool, error) {
	prompt := promptText(email, summary, hasSummary)
	fmt.Fprintf(os.Stdout, "%s [y/N]: ", prompt)

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := readLine(d.Stdin)
		if err != nil {
			errCh <- err
			return
		}
		lineCh <- line
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, nil
	case <-timer.C:
		return false, nil
	case err := <-errCh:
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("read confirmation: %w", err)
	case line := <-lineCh:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

func promptText(email, summary string, hasSummary bool) string {
	if hasSummary && strings.TrimSpace(summary) != "" {
		return fmt.Sprintf("Allow %s to run %q with production access?", email, summary)
	}
	return fmt.Sprintf("Allow %s production access?", email)
}

func readLine(r io.Reader) (string, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

// escapeAppleScript escapes a string for safe inline embedding in an
// AppleScript `display dialog` string literal: backslashes first, then
// double quotes.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
