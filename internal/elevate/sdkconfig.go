package elevate

import (
	"fmt"
	"os"
	"path/filepath"
)

// sdkConfigDir materializes the ephemeral, 0700 SDK-config directory from
// spec.md §4.14 step 3 / §6: an access_token file and a properties file
// that reference it, so the wrapped child never sees the raw token
// through an environment variable.
type sdkConfigDir struct {
	path string
}

// newSDKConfigDir creates a fresh 0700 temp directory under parentDir (the
// user-private runtime directory) and writes the token files into it.
func newSDKConfigDir(parentDir, accessToken string) (*sdkConfigDir, error) {
	dir, err := os.MkdirTemp(parentDir, "sdkconfig-")
	if err != nil {
		return nil, fmt.Errorf("create ephemeral sdk config directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod ephemeral sdk config directory: %w", err)
	}

	tokenPath := filepath.Join(dir, "access_token")
	if err := os.WriteFile(tokenPath, []byte(accessToken), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write access_token file: %w", err)
	}

	properties := fmt.Sprintf("[auth]\naccess_token_file = %s\n", tokenPath)
	if err := os.WriteFile(filepath.Join(dir, "properties"), []byte(properties), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write properties file: %w", err)
	}

	return &sdkConfigDir{path: dir}, nil
}

// Remove deletes the directory and everything in it. Safe to call more
// than once; errors are swallowed since cleanup must never fail the
// caller's exit path (spec.md §8 property 6).
func (s *sdkConfigDir) Remove() {
	if s == nil || s.path == "" {
		return
	}
	_ = os.RemoveAll(s.path)
}
