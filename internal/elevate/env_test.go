package elevate

import "testing"

func TestBuildChildEnvStripsCredentialVars(t *testing.T) {
	parent := []string{
		"CLOUDSDK_AUTH_ACCESS_TOKEN=secret",
		"GOOGLE_APPLICATION_CREDENTIALS=/tmp/creds.json",
		"PATH=/usr/bin",
		"HOME=/home/eng",
	}
	got := buildChildEnv(parent, nil)

	for _, entry := range got {
		if has(entry, "CLOUDSDK_AUTH_ACCESS_TOKEN=") || has(entry, "GOOGLE_APPLICATION_CREDENTIALS=") {
			t.Fatalf("stripped var leaked into child env: %v", got)
		}
	}
	if !contains(got, "PATH=/usr/bin") || !contains(got, "HOME=/home/eng") {
		t.Fatalf("non-stripped vars dropped: %v", got)
	}
}

func TestBuildChildEnvOverlayTakesPrecedence(t *testing.T) {
	parent := []string{"CLOUDSDK_CORE_PROJECT=old-project", "PATH=/usr/bin"}
	got := buildChildEnv(parent, map[string]string{"CLOUDSDK_CORE_PROJECT": "new-project"})

	if contains(got, "CLOUDSDK_CORE_PROJECT=old-project") {
		t.Fatalf("parent value for an overlaid key survived: %v", got)
	}
	if !contains(got, "CLOUDSDK_CORE_PROJECT=new-project") {
		t.Fatalf("overlay value missing: %v", got)
	}
}

func TestBuildChildEnvDedupesLastWriteWins(t *testing.T) {
	parent := []string{"FOO=one", "FOO=two"}
	got := buildChildEnv(parent, nil)

	count := 0
	for _, entry := range got {
		if has(entry, "FOO=") {
			count++
			if entry != "FOO=two" {
				t.Fatalf("expected last write to win, got %q", entry)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one FOO entry, got %d in %v", count, got)
	}
}

func TestBuildChildEnvDropsBlankEntries(t *testing.T) {
	parent := []string{"", "   ", "PATH=/usr/bin"}
	got := buildChildEnv(parent, nil)

	if len(got) != 1 || got[0] != "PATH=/usr/bin" {
		t.Fatalf("got = %v", got)
	}
}

func has(entry, prefix string) bool {
	return len(entry) >= len(prefix) && entry[:len(prefix)] == prefix
}

func contains(entries []string, want string) bool {
	for _, e := range entries {
		if e == want {
			return true
		}
	}
	return false
}
