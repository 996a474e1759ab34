// Package pidvalidate implements spec.md §4.9: resolving the owning PID of
// a loopback TCP connection by parsing /proc/net/tcp{,6} and walking
// /proc/<pid>/fd inode symlinks, then validating PID ancestry by walking
// PPid chains in /proc/<pid>/status.
//
// Every entry point takes a procRoot so tests drive this against fixture
// directories rather than the real /proc (spec.md §9's binary-format
// note: this parser must be tested against fixtures).
package pidvalidate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxAncestryDepth guards against PPid cycles (spec.md §4.9).
const maxAncestryDepth = 256

// DefaultProcRoot is the real /proc, used by production callers.
const DefaultProcRoot = "/proc"

// GetOwnerPID resolves the PID owning the loopback TCP socket bound to
// localPort, trying /proc/net/tcp (IPv4 loopback) before
// /proc/net/tcp6 (v4-mapped IPv6 loopback). It returns ok=false, never an
// error, when nothing is found or any file is unreadable.
func GetOwnerPID(procRoot string, localPort int) (pid int, ok bool) {
	portHex := fmt.Sprintf("%04X", localPort)

	if inode, ok := findInode(filepath.Join(procRoot, "net", "tcp"), "0100007F:"+portHex); ok {
		if pid, ok := pidForInode(procRoot, inode); ok {
			return pid, true
		}
	}
	if inode, ok := findInode(filepath.Join(procRoot, "net", "tcp6"), "0000000000000000FFFF00000100007F:"+portHex); ok {
		if pid, ok := pidForInode(procRoot, inode); ok {
			return pid, true
		}
	}
	return 0, false
}

// findInode scans a /proc/net/tcp{,6}-formatted file for a line whose
// local-address field (case-insensitively) matches target, returning the
// socket inode from field index 9.
func findInode(path, target string) (inode string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		if !strings.EqualFold(fields[1], target) {
			continue
		}
		return fields[9], true
	}
	return "", false
}

// pidForInode scans procRoot for numeric PID directories and returns the
// first one with an fd whose symlink target is socket:[<inode>].
func pidForInode(procRoot, inode string) (int, bool) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, false
	}
	want := "socket:[" + inode + "]"

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join(procRoot, entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if target == want {
				return pid, true
			}
		}
	}
	return 0, false
}

// IsDescendantOf reports whether pid is ancestor itself or a descendant of
// it, walking PPid chains read from /proc/<pid>/status. The walk
// terminates at pid<=1, on a read failure, on a self-parent loop, or after
// maxAncestryDepth iterations.
func IsDescendantOf(procRoot string, pid, ancestor int) bool {
	current := pid
	for i := 0; i < maxAncestryDepth; i++ {
		if current == ancestor {
			return true
		}
		if current <= 1 {
			return false
		}
		parent, ok := readPPid(procRoot, current)
		if !ok || parent == current {
			return false
		}
		current = parent
	}
	return false
}

func readPPid(procRoot string, pid int) (int, bool) {
	path := filepath.Join(procRoot, strconv.Itoa(pid), "status")
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "PPid:") {
			continue
		}
		field := strings.TrimSpace(strings.TrimPrefix(line, "PPid:"))
		ppid, err := strconv.Atoi(field)
		if err != nil {
			return 0, false
		}
		return ppid, true
	}
	return 0, false
}
