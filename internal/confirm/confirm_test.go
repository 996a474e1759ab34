package confirm

import (
	"context"
	"os"
	"testing"
	"time"
)

func withGUI(t *testing.T, fn func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error)) {
	t.Helper()
	prev := guiConfirm
	guiConfirm = fn
	t.Cleanup(func() { guiConfirm = prev })
}

func TestConfirmUsesGUIResultWhenFound(t *testing.T) {
	withGUI(t, func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{approved: true}, nil
	})
	d := &Dialog{Timeout: time.Second}
	ok, err := d.Confirm(context.Background(), "eng@ex.com", "", false)
	if err != nil || !ok {
		t.Fatalf("expected approved, got ok=%v err=%v", ok, err)
	}
}

func TestConfirmFallsThroughToTTYWhenGUINotFound(t *testing.T) {
	withGUI(t, func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{notFound: true}, nil
	})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	go func() {
		w.WriteString("y\n")
		w.Close()
	}()

	d := &Dialog{Timeout: time.Second, Stdin: r, isTerminal: func(uintptr) bool { return true }}
	ok, err := d.Confirm(context.Background(), "eng@ex.com", "ls -la", true)
	if err != nil || !ok {
		t.Fatalf("expected approved from TTY, got ok=%v err=%v", ok, err)
	}
}

func TestConfirmDeniesWhenStdinNotTerminal(t *testing.T) {
	withGUI(t, func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{notFound: true}, nil
	})
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	d := &Dialog{Timeout: time.Second, Stdin: r, isTerminal: func(uintptr) bool { return false }}
	ok, err := d.Confirm(context.Background(), "eng@ex.com", "", false)
	if err != nil || ok {
		t.Fatalf("expected denial for non-terminal stdin, got ok=%v err=%v", ok, err)
	}
}

func TestConfirmTTYDeniesOnNonYes(t *testing.T) {
	withGUI(t, func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{notFound: true}, nil
	})
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	go func() {
		w.WriteString("no\n")
		w.Close()
	}()

	d := &Dialog{Timeout: time.Second, Stdin: r, isTerminal: func(uintptr) bool { return true }}
	ok, err := d.Confirm(context.Background(), "eng@ex.com", "", false)
	if err != nil || ok {
		t.Fatalf("expected denial, got ok=%v err=%v", ok, err)
	}
}

func TestConfirmTTYTimesOut(t *testing.T) {
	withGUI(t, func(ctx context.Context, email, summary string, hasSummary bool) (guiResult, error) {
		return guiResult{notFound: true}, nil
	})
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close() // never write: forces the timeout path

	d := &Dialog{Timeout: 20 * time.Millisecond, Stdin: r, isTerminal: func(uintptr) bool { return true }}
	ok, err := d.Confirm(context.Background(), "eng@ex.com", "", false)
	if err != nil || ok {
		t.Fatalf("expected timeout denial, got ok=%v err=%v", ok, err)
	}
}

func TestEscapeAppleScript(t *testing.T) {
	got := escapeAppleScript(`say "hi" \ bye`)
	want := `say \"hi\" \\ bye`
	if got != want {
		t.Fatalf("escapeAppleScript() = %q, want %q", got, want)
	}
}
