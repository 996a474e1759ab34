// Command authcalator-run is the elevation wrapper's CLI entrypoint: it
// wraps an argv command so it runs against a short-lived production
// credential, either by reusing an already-running parent session or by
// minting a fresh one through the gate daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"si/tools/authcalator/internal/dockerenv"
	"si/tools/authcalator/internal/elevate"
	"si/tools/authcalator/internal/runtimedir"
)

func main() {
	project := strings.TrimSpace(os.Getenv("AUTHCALATOR_PROJECT"))
	argv := parseArgs(os.Args[1:])

	if dockerenv.DoubleEscalationRisk() {
		fmt.Fprintln(os.Stderr, "warning: a host Docker socket is reachable from inside a container; the wrapped command could use it to escalate a second time")
	}

	runtimeDir, err := runtimedir.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve runtime directory: %v\n", err)
		os.Exit(1)
	}
	socketPath := strings.TrimSpace(os.Getenv("GATE_SOCKET_PATH"))
	if socketPath == "" {
		socketPath = runtimedir.SocketPath(runtimeDir)
	}

	wrapper := elevate.New(socketPath, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	os.Exit(wrapper.Run(context.Background(), argv, project))
}

// parseArgs strips a leading "--" separator if the caller used one
// (e.g. "authcalator-run -- kubectl get pods"); without it, every
// argument after the binary name is treated as the wrapped command.
func parseArgs(args []string) []string {
	if len(args) > 0 && args[0] == "--" {
		return args[1:]
	}
	return args
}
