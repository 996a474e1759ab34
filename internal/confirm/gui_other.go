//go:build !linux && !darwin

package confirm

import "context"

// No GUI dialog channel is defined for this platform; always fall through
// to the TTY prompt (or outright denial if stdin isn't a terminal).
func init() {
	guiConfirm = func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{notFound: true}, nil
	}
}
