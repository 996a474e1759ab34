// Command authcalator-gate runs the gate daemon: the Unix-socket-bound
// request router that mints dev and prod tokens on behalf of the
// metadata proxy and the elevation wrapper, gating production access
// behind a confirmation dialog.
package main

import (
	"log"
	"os"
	"strings"

	"si/tools/authcalator/internal/audit"
	"si/tools/authcalator/internal/auth"
	"si/tools/authcalator/internal/confirm"
	"si/tools/authcalator/internal/gatelisten"
	"si/tools/authcalator/internal/gaterouter"
	"si/tools/authcalator/internal/identity"
	"si/tools/authcalator/internal/metrics"
	"si/tools/authcalator/internal/ratelimit"
	"si/tools/authcalator/internal/runtimedir"
)

func main() {
	logger := log.New(os.Stdout, "gate ", log.LstdFlags|log.LUTC)

	runtimeDir, err := runtimedir.Resolve()
	if err != nil {
		logger.Fatalf("resolve runtime directory: %v", err)
	}

	socketPath := env("GATE_SOCKET_PATH", runtimedir.SocketPath(runtimeDir))
	auditLogPath := env("GATE_AUDIT_LOG_PATH", "")
	if legacy := strings.TrimSpace(os.Getenv("GATE_LEGACY_AUDIT_DIR")); legacy != "" && auditLogPath == "" {
		auditLogPath = runtimedir.AuditLogPath(legacy)
	}
	if auditLogPath == "" {
		auditLogPath = runtimedir.AuditLogPath(runtimeDir)
	}

	targetPrincipal := strings.TrimSpace(os.Getenv("GATE_DEV_TARGET_PRINCIPAL"))
	if targetPrincipal == "" {
		logger.Fatalf("GATE_DEV_TARGET_PRINCIPAL must name the service account dev tokens impersonate")
	}

	gcp := identity.NewGCP(targetPrincipal)

	auditSink, err := audit.Open(auditLogPath)
	if err != nil {
		logger.Fatalf("open audit log %s: %v", auditLogPath, err)
	}
	defer auditSink.Close()

	authModule := auth.New(gcp.DevSource(), gcp.ProdSource(), gcp, gcp, nil)
	limiter := ratelimit.New(nil)
	dialog := confirm.NewDialog()
	metricsRegistry := metrics.New()

	router := gaterouter.New(gaterouter.Deps{
		Auth:    authModule,
		Confirm: dialog,
		Audit:   auditSink,
		Limiter: limiter,
		Metrics: metricsRegistry,
	})

	listener := gatelisten.New(socketPath, router, logger.Printf).WithMetrics(metricsRegistry)
	if err := listener.RunUntilSignal(); err != nil {
		logger.Fatalf("gate listener: %v", err)
	}
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
