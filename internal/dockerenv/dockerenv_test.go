package dockerenv

import (
	"os"
	"testing"
)

func TestContainsDockerCgroupDetectsDockerAndContainerd(t *testing.T) {
	cases := []struct {
		name string
		data string
		want bool
	}{
		{"docker", "0::/docker/abcdef1234", true},
		{"containerd", "0::/system.slice/containerd.service", true},
		{"plain host", "0::/init.scope", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := containsDockerCgroup([]byte(tc.data)); got != tc.want {
				t.Fatalf("containsDockerCgroup(%q) = %v, want %v", tc.data, got, tc.want)
			}
		})
	}
}

func TestSocketExistsFalseForMissingPath(t *testing.T) {
	if socketExists("/no/such/path/here") {
		t.Fatal("expected false for a nonexistent path")
	}
}

func TestSocketExistsFalseForRegularFile(t *testing.T) {
	f := t.TempDir() + "/not-a-socket"
	if err := os.WriteFile(f, nil, 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if socketExists(f) {
		t.Fatal("expected false for a regular file")
	}
}
