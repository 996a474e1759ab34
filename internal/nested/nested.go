// Package nested implements spec.md §4.13: best-effort detection of an
// already-running parent elevation session via the sentinel environment
// variable, so the elevation wrapper can reuse it instead of starting a
// redundant proxy.
package nested

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SentinelEnvVar is the environment variable whose presence and value
// identify a reusable parent proxy (spec.md §6).
const SentinelEnvVar = "GCP_AUTHCALATOR_PROD_SESSION"

// ProbeTimeout bounds every HTTP probe this detector makes.
const ProbeTimeout = 2 * time.Second

// Session describes a reusable parent elevation session.
type Session struct {
	MetadataHost string
	Email        string
	ProjectID    string
}

// Detector probes a candidate metadata host to confirm it is live and
// fully populated before it can be reused.
type Detector struct {
	client *http.Client
}

// NewDetector returns a Detector using http.Client with ProbeTimeout.
func NewDetector() *Detector {
	return &Detector{client: &http.Client{Timeout: ProbeTimeout}}
}

// Detect reads the sentinel from env (a lookup function in the style of
// os.LookupEnv) and, if present, probes the candidate metadata host.
// Detection is best-effort: any failure at any step (unset sentinel,
// probe failure, missing fields) is reported as "no session", not an
// error. warnf, which may be nil, is called once to distinguish an
// unset sentinel from a sentinel that was present but failed its probe,
// without changing the fall-through behavior either way.
func (d *Detector) Detect(ctx context.Context, lookupEnv func(string) (string, bool), warnf func(format string, args ...any)) (Session, bool) {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	host, ok := lookupEnv(SentinelEnvVar)
	host = strings.TrimSpace(host)
	if !ok || host == "" {
		return Session{}, false
	}

	if !d.probeRoot(ctx, host) {
		warnf("nested session sentinel %s=%s present but root probe failed; falling through to normal flow", SentinelEnvVar, host)
		return Session{}, false
	}

	if !d.probeTokenAlive(ctx, host) {
		warnf("nested session sentinel %s=%s present but token probe failed; falling through to normal flow", SentinelEnvVar, host)
		return Session{}, false
	}

	email, ok := d.probeText(ctx, host, "/computeMetadata/v1/instance/service-accounts/default/email")
	if !ok || email == "" {
		warnf("nested session sentinel %s=%s present but email was empty; falling through to normal flow", SentinelEnvVar, host)
		return Session{}, false
	}
	projectID, ok := d.probeText(ctx, host, "/computeMetadata/v1/project/project-id")
	if !ok || projectID == "" {
		warnf("nested session sentinel %s=%s present but project id was empty; falling through to normal flow", SentinelEnvVar, host)
		return Session{}, false
	}

	return Session{MetadataHost: host, Email: email, ProjectID: projectID}, true
}

func (d *Detector) probeRoot(ctx context.Context, host string) bool {
	resp, err := d.doGet(ctx, host, "/")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	return strings.EqualFold(resp.Header.Get("Metadata-Flavor"), "Google")
}

func (d *Detector) probeTokenAlive(ctx context.Context, host string) bool {
	resp, err := d.doGet(ctx, host, "/computeMetadata/v1/instance/service-accounts/default/token")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	var body struct {
		ExpiresIn int64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.ExpiresIn > 0
}

func (d *Detector) probeText(ctx context.Context, host, path string) (string, bool) {
	resp, err := d.doGet(ctx, host, path)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func (d *Detector) doGet(ctx context.Context, host, path string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s%s", host, path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	return d.client.Do(req)
}
