// Package elevate implements spec.md §4.14: the elevation wrapper that
// turns a plain argv command into one running against a short-lived,
// single-process-scoped production credential, by spawning an ephemeral
// metadata proxy (or reusing a parent one) and exec'ing the child beneath
// it.
package elevate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"si/tools/authcalator/internal/gateclient"
	"si/tools/authcalator/internal/metalisten"
	"si/tools/authcalator/internal/metarouter"
	"si/tools/authcalator/internal/nested"
	"si/tools/authcalator/internal/runtimedir"
	"si/tools/authcalator/internal/staticprovider"
)

// Wrapper owns one elevation invocation's dependencies.
type Wrapper struct {
	GateSocketPath string
	Logf           func(format string, args ...any)

	detector *nested.Detector
}

// New returns a Wrapper that talks to the gate daemon over gateSocketPath.
// logf may be nil, in which case log output is discarded.
func New(gateSocketPath string, logf func(format string, args ...any)) *Wrapper {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Wrapper{GateSocketPath: gateSocketPath, Logf: logf, detector: nested.NewDetector()}
}

// Run wraps argv, blocking until the child exits, and returns the process
// exit code spec.md §6 mandates: 0 on normal completion, 1 on any
// precondition/configuration/token failure, otherwise the child's own
// code verbatim.
func (w *Wrapper) Run(ctx context.Context, argv []string, requestedProject string) int {
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "usage: authcalator-run -- <command> [args...]")
		return 1
	}

	if session, ok := w.detector.Detect(ctx, os.LookupEnv, w.Logf); ok {
		if requestedProject == "" || requestedProject == session.ProjectID {
			w.Logf("reusing existing prod session at %s", session.MetadataHost)
			return w.runNested(ctx, argv, session)
		}
	}

	return w.runNormal(ctx, argv, requestedProject)
}

func (w *Wrapper) runNested(ctx context.Context, argv []string, session nested.Session) int {
	overlay := map[string]string{
		"GCE_METADATA_HOST":     session.MetadataHost,
		"GCE_METADATA_IP":       session.MetadataHost,
		"CLOUDSDK_CORE_ACCOUNT": session.Email,
		"CLOUDSDK_CORE_PROJECT": session.ProjectID,
	}
	if cfg, ok := lookupInEnv(os.Environ(), "CLOUDSDK_CONFIG"); ok {
		overlay["CLOUDSDK_CONFIG"] = cfg
	}
	childEnv := buildChildEnv(os.Environ(), overlay)
	return runChild(argv, childEnv, w.Logf)
}

func (w *Wrapper) runNormal(ctx context.Context, argv []string, requestedProject string) (exitCode int) {
	client := gateclient.New(w.GateSocketPath)
	if err := client.CheckGateSocket(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gate daemon unreachable: %v\n", err)
		return 1
	}

	tok, err := client.MintProdToken(ctx, argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "production token request denied or failed: %v\n", err)
		return 1
	}
	email, err := client.GetIdentityEmail(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not resolve caller identity: %v\n", err)
		return 1
	}

	cfg := metarouter.Config{
		Token:     staticprovider.New(tok),
		ProjectID: requestedProject,
		Email:     email,
		StartedAt: time.Now(),
	}
	proxy := metalisten.New(metarouter.New(cfg), metalisten.Options{
		Port:               0,
		AllowedAncestorPID: os.Getpid(),
		Logf:               func(string, ...any) {},
	})
	if err := proxy.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "could not start ephemeral metadata proxy: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = proxy.Shutdown(shutdownCtx)
	}()

	tcpAddr, ok := proxy.Addr().(*net.TCPAddr)
	if !ok {
		fmt.Fprintln(os.Stderr, "ephemeral metadata proxy bound to an unexpected address type")
		return 1
	}
	metadataHost := fmt.Sprintf("127.0.0.1:%d", tcpAddr.Port)

	runtimeDir, err := runtimedir.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not resolve runtime directory: %v\n", err)
		return 1
	}
	sdkDir, err := newSDKConfigDir(runtimeDir, tok.AccessToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not materialize SDK config directory: %v\n", err)
		return 1
	}
	defer sdkDir.Remove()

	overlay := map[string]string{
		"GCE_METADATA_HOST":     metadataHost,
		"GCE_METADATA_IP":       metadataHost,
		"CLOUDSDK_CONFIG":       sdkDir.path,
		"CLOUDSDK_CORE_ACCOUNT": email,
		"CLOUDSDK_CORE_PROJECT": requestedProject,
		nested.SentinelEnvVar:   metadataHost,
	}
	childEnv := buildChildEnv(os.Environ(), overlay)
	return runChild(argv, childEnv, w.Logf)
}

// runChild spawns argv with the given environment and inherited stdio,
// forwards SIGTERM/SIGINT to it for as long as it runs, and returns its
// exit code (1 if it could not be started or exited without one).
func runChild(argv []string, env []string, logf func(format string, args ...any)) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			logf("elevation wrapper recovered from panic: %v", r)
			exitCode = 1
		}
	}()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "could not start %s: %v\n", argv[0], err)
		return 1
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	forwardCtx, stopForwarding := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(forwardCtx)
	group.Go(func() error {
		for {
			select {
			case sig := <-sigCh:
				if cmd.Process != nil {
					_ = cmd.Process.Signal(sig)
				}
			case <-groupCtx.Done():
				return nil
			}
		}
	})

	waitErr := cmd.Wait()
	stopForwarding()
	_ = group.Wait()
	signal.Stop(sigCh)

	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func lookupInEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):], true
		}
	}
	return "", false
}
