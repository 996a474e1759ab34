package pidvalidate

import (
	"os"
	"path/filepath"
	"testing"
)

// writeProcNetTCP writes a minimal /proc/net/tcp{,6}-shaped fixture file
// with a header line and the given data lines.
func writeProcNetTCP(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestGetOwnerPIDResolvesFromTCP(t *testing.T) {
	root := t.TempDir()
	writeProcNetTCP(t, filepath.Join(root, "net", "tcp"), []string{
		" 0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 12345 1 0000000000000000 100 0 0 10 0",
	})
	// Create the fd symlink for PID 4242 pointing at inode 12345.
	fdDir := filepath.Join(root, "4242", "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink("socket:[12345]", filepath.Join(fdDir, "5")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	pid, ok := GetOwnerPID(root, 8080) // 0x1F90 == 8080
	if !ok {
		t.Fatal("expected to resolve owner pid")
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}
}

func TestGetOwnerPIDFallsBackToTCP6(t *testing.T) {
	root := t.TempDir()
	// No /proc/net/tcp at all; only tcp6 has the matching entry.
	writeProcNetTCP(t, filepath.Join(root, "net", "tcp6"), []string{
		" 0: 0000000000000000FFFF00000100007F:1F90 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 777 1 0000000000000000 100 0 0 10 0",
	})
	fdDir := filepath.Join(root, "55", "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink("socket:[777]", filepath.Join(fdDir, "0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	pid, ok := GetOwnerPID(root, 8080)
	if !ok || pid != 55 {
		t.Fatalf("pid=%d ok=%v, want 55/true", pid, ok)
	}
}

func TestGetOwnerPIDNotFoundIsFalseNotError(t *testing.T) {
	root := t.TempDir() // no net/tcp{,6} files at all
	pid, ok := GetOwnerPID(root, 1234)
	if ok {
		t.Fatalf("expected not-found, got pid=%d", pid)
	}
}

func writeStatus(t *testing.T, root string, pid, ppid int) {
	t.Helper()
	dir := filepath.Join(root, itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "Name:\tfake\nPid:\t" + itoa(pid) + "\nPPid:\t" + itoa(ppid) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(content), 0o644); err != nil {
		t.Fatalf("write status: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestIsDescendantOfWalksAncestryChain(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, root, 100, 1)  // root ancestor, parented by init
	writeStatus(t, root, 200, 100)
	writeStatus(t, root, 300, 200)

	if !IsDescendantOf(root, 300, 100) {
		t.Fatal("expected 300 to be a descendant of 100")
	}
	if !IsDescendantOf(root, 100, 100) {
		t.Fatal("a process is its own descendant")
	}
	if IsDescendantOf(root, 300, 999) {
		t.Fatal("300 should not be a descendant of an unrelated pid")
	}
}

func TestIsDescendantOfDetectsSelfParentLoop(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, root, 50, 50) // malformed: self-parent
	if IsDescendantOf(root, 50, 1) {
		t.Fatal("self-parent loop must not resolve to a descendant")
	}
}

func TestIsDescendantOfUnreadableStatusIsFalse(t *testing.T) {
	root := t.TempDir()
	// pid 7 has no status file at all.
	if IsDescendantOf(root, 7, 1) {
		t.Fatal("unreadable status should yield false, not a crash or true")
	}
}
