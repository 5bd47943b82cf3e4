package editor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu      sync.Mutex
	changes []string
	commits []string
	changed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{changed: make(chan struct{}, 16)}
}

func (r *recorder) HandleTextChange(text string) {
	r.mu.Lock()
	r.changes = append(r.changes, text)
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *recorder) Commit(text string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, text)
	return nil, nil
}

func (r *recorder) lastChange() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return ""
	}
	return r.changes[len(r.changes)-1]
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

// save replaces path the way most editors do, through a rename, so the
// watcher never sees a half-written file.
func save(t *testing.T, path, text string) {
	t.Helper()
	tmp := path + ".swp"
	writeFile(t, tmp, text)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_FeedsSavesAndCommitsOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	writeFile(t, path, "I saw lights in the sky.")

	rec := newRecorder()
	w, err := New(path, rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	edited := "I saw bright lights in the sky."
	save(t, path, edited)

	deadline := time.After(5 * time.Second)
	for rec.lastChange() != edited {
		select {
		case <-rec.changed:
		case <-deadline:
			t.Fatalf("timed out waiting for edit, last change %q", rec.lastChange())
		}
	}

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.commits) != 1 || rec.commits[0] != edited {
		t.Fatalf("expected one commit of %q, got %q", edited, rec.commits)
	}
}

func TestWatcher_IgnoresOtherFilesAndUnchangedSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	writeFile(t, path, "same")

	rec := newRecorder()
	w, err := New(path, rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "other.txt"), "noise")
	save(t, path, "same")

	// Give the event loop a moment; nothing should arrive.
	select {
	case <-rec.changed:
		t.Fatalf("unexpected change %q", rec.lastChange())
	case <-time.After(200 * time.Millisecond):
	}

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(rec.commits) != 1 || rec.commits[0] != "same" {
		t.Fatalf("expected commit of unchanged text, got %q", rec.commits)
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing.txt"), newRecorder())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ContextCancelEndsLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	writeFile(t, path, "text")

	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(path, newRecorder())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}
