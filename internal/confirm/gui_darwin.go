//go:build darwin

package confirm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

func init() {
	guiConfirm = darwinGUIConfirm
}

// darwinGUIConfirm shows a two-button modal via the OS scripting bridge
// (osascript), defaulting to "Deny". All interpolated values are escaped
// against AppleScript string-literal quoting rules before being embedded in
// the inline script text handed to osascript -e.
func darwinGUIConfirm(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
	if _, err := exec.LookPath("osascript"); err != nil {
		return guiResult{notFound: true}, nil
	}

	text := escapeAppleScript(promptText(email, summary, hasSummary))
	script := fmt.Sprintf(
		`display dialog "%s" buttons {"Deny", "Allow"} default button "Deny" with title "authcalator"`,
		text,
	)

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.Output()
	if err == nil {
		return guiResult{approved: strings.Contains(string(out), "Allow")}, nil
	}
	if ctx.Err() != nil {
		return guiResult{approved: false}, nil // timeout: denial
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// User canceled or clicked Deny: osascript exits non-zero.
		return guiResult{approved: false}, nil
	}
	return guiResult{}, fmt.Errorf("run osascript confirm dialog: %w", err)
}
