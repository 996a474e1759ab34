package nested

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func goodServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Metadata-Flavor", "Google")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/computeMetadata/v1/instance/service-accounts/default/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok","expires_in":3600,"token_type":"Bearer"}`))
	})
	mux.HandleFunc("/computeMetadata/v1/instance/service-accounts/default/email", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("eng@ex.com\n"))
	})
	mux.HandleFunc("/computeMetadata/v1/project/project-id", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("my-project"))
	})
	return httptest.NewServer(mux)
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestDetectReturnsNoneWhenSentinelUnset(t *testing.T) {
	d := NewDetector()
	_, ok := d.Detect(context.Background(), fakeEnv(nil), nil)
	if ok {
		t.Fatal("expected no session when sentinel is unset")
	}
}

func TestDetectReturnsSessionOnFullyAliveProxy(t *testing.T) {
	srv := goodServer(t)
	defer srv.Close()

	d := NewDetector()
	session, ok := d.Detect(context.Background(), fakeEnv(map[string]string{SentinelEnvVar: hostOf(srv)}), nil)
	if !ok {
		t.Fatal("expected a session")
	}
	if session.Email != "eng@ex.com" || session.ProjectID != "my-project" {
		t.Fatalf("session = %+v", session)
	}
}

func TestDetectReturnsNoneWhenRootMissingFlavorHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // no Metadata-Flavor header
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDetector()
	warned := false
	_, ok := d.Detect(context.Background(), fakeEnv(map[string]string{SentinelEnvVar: hostOf(srv)}), func(string, ...any) { warned = true })
	if ok {
		t.Fatal("expected no session")
	}
	if !warned {
		t.Fatal("expected a warning to be logged for a present-but-stale sentinel")
	}
}

func TestDetectReturnsNoneWhenTokenExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Metadata-Flavor", "Google")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/computeMetadata/v1/instance/service-accounts/default/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok","expires_in":0}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDetector()
	_, ok := d.Detect(context.Background(), fakeEnv(map[string]string{SentinelEnvVar: hostOf(srv)}), nil)
	if ok {
		t.Fatal("expected no session when expires_in is 0")
	}
}

func TestDetectReturnsNoneOnUnreachableHost(t *testing.T) {
	d := NewDetector()
	_, ok := d.Detect(context.Background(), fakeEnv(map[string]string{SentinelEnvVar: "127.0.0.1:1"}), nil)
	if ok {
		t.Fatal("expected no session for an unreachable host")
	}
}
