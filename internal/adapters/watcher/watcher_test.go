package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{"Remove returns OpDelete", fsnotify.Remove, OpDelete},
		{"Rename returns OpDelete", fsnotify.Rename, OpDelete},
		{"Create returns OpCreate", fsnotify.Create, OpCreate},
		{"Write returns OpModify", fsnotify.Write, OpModify},
		{"Chmod returns OpModify", fsnotify.Chmod, OpModify},
		{"Remove takes precedence over Write", fsnotify.Remove | fsnotify.Write, OpDelete},
		{"Create takes precedence over Write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fsnotifyOpToOperation(tt.op); got != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, got, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.expected {
			t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
		}
	}
}

func TestUpdatePendingEvent(t *testing.T) {
	p := &pendingEvent{op: OpDelete}
	updatePendingEvent(p, OpCreate)
	if p.op != OpCreate {
		t.Errorf("delete then create = %v, want create", p.op)
	}

	updatePendingEvent(p, OpModify)
	if p.op != OpCreate {
		t.Errorf("create then modify = %v, want create", p.op)
	}

	updatePendingEvent(p, OpDelete)
	if p.op != OpDelete {
		t.Errorf("then delete = %v, want delete", p.op)
	}
}

func TestWatcherRelevant(t *testing.T) {
	dir := t.TempDir()
	shp := filepath.Join(dir, "parcels.shp")
	tif := filepath.Join(dir, "scene.tif")
	out := filepath.Join(dir, "scene_ndvi.tif")
	for _, f := range []string{shp, tif} {
		if err := os.WriteFile(f, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	match := func(p string) bool { return !strings.HasSuffix(p, ".txt") }
	w, err := New(Config{Paths: []string{shp, tif}, Ignore: []string{out}, Match: match}, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	for _, p := range []string{shp, tif} {
		if err := w.AddPath(p); err != nil {
			t.Fatalf("AddPath(%s) error = %v", p, err)
		}
	}

	tests := []struct {
		path string
		want bool
	}{
		{shp, true},
		{tif, true},
		{filepath.Join(dir, "parcels.dbf"), true},
		{filepath.Join(dir, "other.dbf"), false},
		{out, false},
		{filepath.Join(dir, "notes.txt"), false},
	}

	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", filepath.Base(tt.path), got, tt.want)
		}
	}
}

func TestWatcherTakeSettled(t *testing.T) {
	w, err := New(Config{Debounce: time.Second}, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	now := time.Now()
	w.pending["/in/b.tif"] = &pendingEvent{timestamp: now.Add(-2 * time.Second), op: OpModify}
	w.pending["/in/a.shp"] = &pendingEvent{timestamp: now.Add(-500 * time.Millisecond), op: OpCreate}

	if batch := w.takeSettled(now); batch != nil {
		t.Fatalf("takeSettled() = %v while an event is settling", batch)
	}

	batch := w.takeSettled(now.Add(time.Second))
	if len(batch) != 2 || batch[0].Path != "/in/a.shp" || batch[1].Operation != OpModify {
		t.Errorf("takeSettled() = %+v", batch)
	}
	if len(w.pending) != 0 {
		t.Errorf("pending = %d after take, want 0", len(w.pending))
	}
}

func TestWatcherDispatchSerializes(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	handler := func(_ context.Context, _ []Event) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	w, err := New(Config{}, handler, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.dispatch(context.Background(), []Event{{Path: "x.tif"}})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent handler calls = %d, want 1", maxSeen)
	}
}
