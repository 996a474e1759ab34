// Command authcalator-metadata runs the standalone metadata proxy: it
// emulates the cloud provider's instance-metadata HTTP API on
// 127.0.0.1, backing every token it serves with a call to the gate
// daemon over its Unix socket.
package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"si/tools/authcalator/internal/gateclient"
	"si/tools/authcalator/internal/metalisten"
	"si/tools/authcalator/internal/metarouter"
	"si/tools/authcalator/internal/runtimedir"
)

func main() {
	logger := log.New(os.Stdout, "metadata ", log.LstdFlags|log.LUTC)

	runtimeDir, err := runtimedir.Resolve()
	if err != nil {
		logger.Fatalf("resolve runtime directory: %v", err)
	}
	socketPath := env("GATE_SOCKET_PATH", runtimedir.SocketPath(runtimeDir))
	port := envInt("METADATA_PORT", 8173)

	client := gateclient.New(socketPath)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.CheckGateSocket(ctx); err != nil {
		logger.Fatalf("gate daemon unreachable: %v", err)
	}
	email, err := client.GetIdentityEmail(ctx)
	if err != nil {
		logger.Fatalf("resolve caller identity: %v", err)
	}

	adapter := gateclient.MetarouterAdapter{Client: client}
	cfg := metarouter.Config{
		Token:          adapter,
		ProjectNumber:  adapter,
		UniverseDomain: adapter,
		ProjectID:      env("GOOGLE_CLOUD_PROJECT", ""),
		Email:          email,
		StartedAt:      time.Now(),
	}

	listener := metalisten.New(metarouter.New(cfg), metalisten.Options{
		Port: port,
		Logf: logger.Printf,
	})
	if err := listener.RunUntilSignal(); err != nil {
		logger.Fatalf("metadata listener: %v", err)
	}
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
