// Package dockerenv is a small, stdlib-only adaptation of
// agents/shared/docker/host.go's socket detection, used only to print an
// advisory double-escalation warning: this wrapper already grants the
// wrapped command production credentials, and if that command can also
// reach a host Docker socket from inside a container it can escalate a
// second time by launching sibling containers. Never blocking, never
// used to manage containers itself.
package dockerenv

import (
	"os"
	"strings"
)

// defaultSocketPath is the conventional host Docker socket mount point.
const defaultSocketPath = "/var/run/docker.sock"

// dockerenvMarker exists inside (almost) every container runtime's root.
const dockerenvMarker = "/.dockerenv"

// cgroupPath is read to distinguish "running inside a container" from
// "running directly on the host" when the marker file is absent (some
// runtimes, e.g. podman, don't create it).
const cgroupPath = "/proc/1/cgroup"

// DoubleEscalationRisk reports whether the current process looks like it
// is already inside a container (so the wrapped command will run there
// too) while also having a host Docker socket available to it. The
// combination that lets an already-elevated command launch sibling
// containers to escalate a second time.
func DoubleEscalationRisk() bool {
	return insideContainer() && dockerSocketAvailable()
}

func insideContainer() bool {
	if info, err := os.Stat(dockerenvMarker); err == nil && !info.IsDir() {
		return true
	}
	data, err := os.ReadFile(cgroupPath)
	if err != nil {
		return false
	}
	return containsDockerCgroup(data)
}

func containsDockerCgroup(data []byte) bool {
	s := string(data)
	return strings.Contains(s, "docker") || strings.Contains(s, "containerd")
}

func dockerSocketAvailable() bool {
	if os.Getenv("DOCKER_HOST") != "" {
		return true
	}
	return socketExists(defaultSocketPath)
}

func socketExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSocket != 0
}
