package elevate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSDKConfigDirWritesExpectedFilesAndPermissions(t *testing.T) {
	parent := t.TempDir()
	dir, err := newSDKConfigDir(parent, "tok-123")
	if err != nil {
		t.Fatalf("newSDKConfigDir: %v", err)
	}
	defer dir.Remove()

	info, err := os.Stat(dir.path)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("dir perm = %o, want 0700", info.Mode().Perm())
	}

	tokenPath := filepath.Join(dir.path, "access_token")
	tokenInfo, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatalf("stat access_token: %v", err)
	}
	if tokenInfo.Mode().Perm() != 0o600 {
		t.Fatalf("access_token perm = %o, want 0600", tokenInfo.Mode().Perm())
	}
	tokenBytes, err := os.ReadFile(tokenPath)
	if err != nil {
		t.Fatalf("read access_token: %v", err)
	}
	if string(tokenBytes) != "tok-123" {
		t.Fatalf("access_token contents = %q", tokenBytes)
	}

	propsPath := filepath.Join(dir.path, "properties")
	propsInfo, err := os.Stat(propsPath)
	if err != nil {
		t.Fatalf("stat properties: %v", err)
	}
	if propsInfo.Mode().Perm() != 0o600 {
		t.Fatalf("properties perm = %o, want 0600", propsInfo.Mode().Perm())
	}
	props, err := os.ReadFile(propsPath)
	if err != nil {
		t.Fatalf("read properties: %v", err)
	}
	if !strings.Contains(string(props), "access_token_file = "+tokenPath) {
		t.Fatalf("properties missing access_token_file reference: %q", props)
	}
}

func TestSDKConfigDirRemoveDeletesDirectory(t *testing.T) {
	parent := t.TempDir()
	dir, err := newSDKConfigDir(parent, "tok")
	if err != nil {
		t.Fatalf("newSDKConfigDir: %v", err)
	}
	dir.Remove()

	if _, err := os.Stat(dir.path); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be gone, stat err = %v", err)
	}
}

func TestSDKConfigDirRemoveIsIdempotentAndNilSafe(t *testing.T) {
	var nilDir *sdkConfigDir
	nilDir.Remove() // must not panic

	parent := t.TempDir()
	dir, err := newSDKConfigDir(parent, "tok")
	if err != nil {
		t.Fatalf("newSDKConfigDir: %v", err)
	}
	dir.Remove()
	dir.Remove() // second call must not error or panic
}
