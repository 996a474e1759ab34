// Package metalisten implements spec.md §4.10: the TCP metadata listener
// bound to 127.0.0.1, with an optional per-connection PID-ancestry check
// delegated to internal/pidvalidate.
package metalisten

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"si/tools/authcalator/internal/pidvalidate"
)

// Options configures a metadata listener instance.
type Options struct {
	// Port is the requested TCP port; 0 asks the kernel for an ephemeral
	// port (read back via Addr() after Start).
	Port int
	// AllowedAncestorPID, if non-zero, restricts accepted connections to
	// ones whose owning process descends from this PID.
	AllowedAncestorPID int
	// ProcRoot overrides /proc for tests; defaults to
	// pidvalidate.DefaultProcRoot.
	ProcRoot string
	Logf     func(format string, args ...any)
}

// Listener is a running (or not-yet-started) metadata proxy TCP server.
type Listener struct {
	opts     Options
	handler  http.Handler
	listener net.Listener
	srv      *http.Server
}

// New builds a Listener serving handler (typically a metarouter.New
// result) once Start is called.
func New(handler http.Handler, opts Options) *Listener {
	if opts.ProcRoot == "" {
		opts.ProcRoot = pidvalidate.DefaultProcRoot
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return &Listener{opts: opts, handler: handler}
}

// Start binds the TCP listener and begins serving in the background.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", l.opts.Port))
	if err != nil {
		return fmt.Errorf("bind metadata listener: %w", err)
	}
	l.listener = ln

	handler := l.handler
	if l.opts.AllowedAncestorPID != 0 {
		handler = l.pidGatedHandler(handler)
	}

	l.srv = &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second, ConnContext: ConnContext}
	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.opts.Logf("metadata listener serve error: %v", err)
		}
	}()
	l.opts.Logf("metadata proxy listening on %s", ln.Addr().String())
	return nil
}

// Addr returns the actual bound address (useful when Port was 0).
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Shutdown stops serving.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.srv == nil {
		return nil
	}
	return l.srv.Shutdown(ctx)
}

// RunUntilSignal starts the listener and blocks until SIGTERM/SIGINT,
// for standalone use by cmd/authcalator-metadata (the elevation wrapper
// instead owns this listener's lifecycle directly and never calls this).
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
		l.opts.Logf("shutting down metadata listener...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return l.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// pidGatedHandler wraps handler with the PID-ancestry check from
// spec.md §4.10: any failure to resolve the owning PID, or a PID that is
// not a descendant of AllowedAncestorPID, is rejected with 403.
func (l *Listener) pidGatedHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerPort, ok := peerLocalPort(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		pid, ok := pidvalidate.GetOwnerPID(l.opts.ProcRoot, peerPort)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if !pidvalidate.IsDescendantOf(l.opts.ProcRoot, pid, l.opts.AllowedAncestorPID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// peerLocalPort reports the TCP port the connecting client bound on its
// own side: from the server's vantage point that's conn.RemoteAddr(),
// and it is the "local port" /proc/net/tcp indexes the connecting
// process's socket under.
func peerLocalPort(r *http.Request) (int, bool) {
	v := r.Context().Value(connContextKey{})
	conn, ok := v.(net.Conn)
	if !ok {
		return 0, false
	}
	_, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, false
	}
	return port, true
}

type connContextKey struct{}

// ConnContext stashes the raw net.Conn on the request context so
// pidGatedHandler can resolve the peer's local port (spec.md §4.9: "obtain
// the peer's local port from the accepted connection"). Wire it via
// http.Server.ConnContext when constructing Listeners directly rather than
// through New+Start (New+Start already does this).
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, c)
}
