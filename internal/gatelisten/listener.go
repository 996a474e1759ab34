// Package gatelisten owns the gate daemon's Unix socket lifecycle per
// spec.md §4.4: stale-socket detection and cleanup, 0600 permissions,
// inode-checked removal on shutdown, and graceful signal handling in the
// style of apps/ReleaseParty/backend's HTTP server loop.
package gatelisten

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"si/tools/authcalator/internal/gaterouter"
	"si/tools/authcalator/internal/metrics"
)

// HealthProbeTimeout bounds the startup liveness check against an existing
// socket file.
const HealthProbeTimeout = 2 * time.Second

// Listener owns a bound Unix socket and the http.Server serving gate
// requests over it.
type Listener struct {
	path     string
	logger   *logAdapter
	router   *gaterouter.Router
	metrics  *metrics.Metrics
	listener net.Listener
	srv      *http.Server
	inode    uint64
	closed   atomic.Bool
}

// logAdapter is the narrow logging capability this package needs; main()
// wires it to a *log.Logger the way agents/infra-broker and
// releaseparty-api do.
type logAdapter struct {
	Printf func(format string, args ...any)
}

// New prepares (but does not yet bind) a Listener for the socket at path.
func New(path string, router *gaterouter.Router, printf func(format string, args ...any)) *Listener {
	if printf == nil {
		printf = func(string, ...any) {}
	}
	return &Listener{path: path, router: router, logger: &logAdapter{Printf: printf}}
}

// WithMetrics attaches a metrics registry, served at GET /metrics. Only
// the gate listener ever exposes this; the metadata listener does not.
func (l *Listener) WithMetrics(m *metrics.Metrics) *Listener {
	l.metrics = m
	return l
}

// Start binds the socket, performing the startup fatal checks from
// spec.md §4.4, and begins serving in the background. Callers must call
// Shutdown to release resources.
func (l *Listener) Start() error {
	if err := l.reclaimStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("bind gate socket %s: %w", l.path, err)
	}
	if err := os.Chmod(l.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod gate socket %s: %w", l.path, err)
	}
	info, err := os.Lstat(l.path)
	if err != nil {
		ln.Close()
		return fmt.Errorf("stat gate socket after bind: %w", err)
	}
	l.inode = inodeOf(info)
	l.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	if l.metrics != nil {
		mux.Handle("/metrics", l.metrics.Handler())
	}
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Printf("gate listener serve error: %v", err)
		}
	}()
	l.logger.Printf("gate listening on %s", l.path)
	return nil
}

// reclaimStaleSocket implements the startup fatal-check sequence: a
// pre-existing path must not be a symlink, must be a socket, must be owned
// by the current user, and must fail a health probe before being removed.
func (l *Listener) reclaimStaleSocket() error {
	info, err := os.Lstat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat existing gate socket path %s: %w", l.path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("gate socket path %s is a symlink, refusing to start", l.path)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("gate socket path %s exists and is not a socket, refusing to start", l.path)
	}
	if !ownedByCurrentUser(info) {
		return fmt.Errorf("gate socket path %s is owned by another user, refusing to start", l.path)
	}
	if probeHealth(l.path, HealthProbeTimeout) {
		return fmt.Errorf("another gate daemon instance is already running on %s", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale gate socket %s: %w", l.path, err)
	}
	return nil
}

// probeHealth dials the socket and issues GET /health with a short
// timeout; it reports liveness, never an error, to the caller.
func probeHealth(path string, timeout time.Duration) bool {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, "unix", path)
			},
		},
	}
	resp, err := client.Get("http://unix/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	req := gaterouter.Request{
		Method:            r.Method,
		Path:              r.URL.Path,
		Level:             r.URL.Query().Get("level"),
		WrappedCommandHdr: r.Header.Get("X-Wrapped-Command"),
	}
	resp := l.router.Route(r.Context(), req)
	if resp.JSON != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		_ = json.NewEncoder(w).Encode(resp.JSON)
		return
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Text))
}

// Shutdown stops serving and removes the socket file iff it still matches
// the inode this Listener created (never a symlink, never someone else's
// replacement socket). Safe to call more than once.
func (l *Listener) Shutdown(ctx context.Context) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if l.srv != nil {
		_ = l.srv.Shutdown(ctx)
	}
	info, err := os.Lstat(l.path)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if inodeOf(info) != l.inode {
		return
	}
	_ = os.Remove(l.path)
}

// Addr returns the bound socket path, for logging.
func (l *Listener) Addr() string { return l.path }

// RunUntilSignal starts the listener and blocks until SIGTERM/SIGINT,
// mirroring the shutdown pattern in
// apps/ReleaseParty/backend/cmd/releaseparty-api/main.go. The wait-for-signal
// and shutdown sequencing runs as its own errgroup goroutine so a future
// second coordinated task (e.g. a watchdog) has a group to join instead of
// a bespoke channel.
func (l *Listener) RunUntilSignal() error {
	if err := l.Start(); err != nil {
		return err
	}
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(stop)

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		select {
		case <-stop:
		case <-ctx.Done():
		}
		l.logger.Printf("shutting down gate listener...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.Shutdown(shutdownCtx)
		return nil
	})
	return group.Wait()
}

func ownedByCurrentUser(info os.FileInfo) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return true // platforms without a Stat_t can't verify; don't block startup
	}
	return int(stat.Uid) == os.Geteuid()
}

func inodeOf(info os.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return stat.Ino
}

