//go:build linux

package confirm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// guiHelperBinary is the headless GUI helper used on Linux to show a
// question dialog. It is looked up on PATH; if absent, guiConfirm reports
// notFound so the caller falls through to the TTY prompt.
var guiHelperBinary = "authcalator-confirm-helper"

func init() {
	guiConfirm = linuxGUIConfirm
}

func linuxGUIConfirm(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
	path, err := exec.LookPath(guiHelperBinary)
	if err != nil {
		return guiResult{notFound: true}, nil
	}

	args := []string{"--question", "--text", promptText(email, summary, hasSummary), "--default=deny"}
	// Arguments are passed as an argv array, not through a shell, so no
	// additional quoting is required here (unlike the macOS AppleScript
	// path, which interpolates into an inline script string).
	cmd := exec.CommandContext(ctx, path, args...)
	err = cmd.Run()
	if err == nil {
		return guiResult{approved: true}, nil
	}
	if ctx.Err() != nil {
		return guiResult{approved: false}, nil // timeout: denial
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Conventional helper contract: exit 0 = approved, 1 = denied,
		// anything else (missing deps, crashed, etc.) is treated as a
		// denial too: this dialog only ever grants on an explicit yes.
		return guiResult{approved: false}, nil
	}
	return guiResult{}, fmt.Errorf("run gui confirm helper: %w", err)
}
