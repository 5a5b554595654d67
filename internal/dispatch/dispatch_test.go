package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"castline/internal/eventbus"
	"castline/internal/platform"
	"castline/internal/status"
	"castline/internal/store"
	"castline/internal/task/engine"
	logx "castline/pkg/logx"
)

// fakeUploader resolves per-entry outcomes set up by the test.
type fakeUploader struct {
	name string

	mu    sync.Mutex
	fail  map[int64]error
	calls []int64
}

func (f *fakeUploader) Name() string { return f.name }

func (f *fakeUploader) Upload(ctx context.Context, job platform.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, job.EntryID)
	if err, ok := f.fail[job.EntryID]; ok {
		return "", err
	}
	return "media-123", nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEnv(t *testing.T) (*store.Store, *engine.Service, *fakeUploader, *Dispatcher) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := engine.New(engine.Config{Workers: 2, QueueSize: 32}, logx.Nop(), eventbus.New())
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Stop(context.Background()) })

	up := &fakeUploader{name: "youtube", fail: map[int64]error{}}
	d := New(st, eng, platform.NewRegistry(up), logx.Nop())
	return st, eng, up, d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func entryMeta(extra map[string]string) map[string]string {
	meta := map[string]string{status.KeyPlatform: "youtube"}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func TestDispatchSubmitsOneJobPerEntry(t *testing.T) {
	t.Parallel()
	st, _, up, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	past := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := st.CreateScheduleEntry(ctx, pid, past.Add(time.Duration(i)*time.Second), entryMeta(nil)); err != nil {
			t.Fatalf("CreateScheduleEntry: %v", err)
		}
	}

	n, err := d.Dispatch(ctx, pid)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("submitted %d jobs, want 3", n)
	}
	waitFor(t, 2*time.Second, func() bool { return up.callCount() == 3 })
}

func TestThreeEntryStatusScenario(t *testing.T) {
	t.Parallel()
	st, _, up, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	base := time.Now().Add(-time.Hour)
	e1, _ := st.CreateScheduleEntry(ctx, pid, base, entryMeta(nil))
	e2, _ := st.CreateScheduleEntry(ctx, pid, base.Add(time.Minute), entryMeta(nil))
	// T3 lies in the future, so its job stays deferred and its adapter
	// never reports during the test.
	e3, _ := st.CreateScheduleEntry(ctx, pid, time.Now().Add(time.Hour), entryMeta(nil))

	up.mu.Lock()
	up.fail[e2] = errors.New("quota exceeded")
	up.mu.Unlock()

	n, err := d.Dispatch(ctx, pid)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("submitted %d jobs, want 3", n)
	}

	waitFor(t, 2*time.Second, func() bool {
		rows, err := st.ListAllStatuses(ctx)
		if err != nil || len(rows) != 3 {
			return false
		}
		return rows[0].Status == status.Uploaded && rows[1].Status == status.Failed
	})

	rows, err := st.ListAllStatuses(ctx)
	if err != nil {
		t.Fatalf("ListAllStatuses: %v", err)
	}
	if rows[0].EntryID != e1 || rows[1].EntryID != e2 || rows[2].EntryID != e3 {
		t.Fatalf("rows not in scheduled-time order: %+v", rows)
	}
	if rows[2].Status != status.Queued {
		t.Fatalf("deferred entry status = %q, want queued", rows[2].Status)
	}
}

func TestDispatchSkipsTerminalEntries(t *testing.T) {
	t.Parallel()
	st, _, up, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	past := time.Now().Add(-time.Minute)
	done, _ := st.CreateScheduleEntry(ctx, pid, past, entryMeta(nil))
	pending, _ := st.CreateScheduleEntry(ctx, pid, past.Add(time.Second), entryMeta(nil))
	if err := st.SetStatus(ctx, done, status.Uploaded); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	n, err := d.Dispatch(ctx, pid)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("submitted %d jobs, want 1", n)
	}
	waitFor(t, 2*time.Second, func() bool { return up.callCount() == 1 })

	e, err := st.GetEntry(ctx, pending)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if e.Status() != status.Uploaded {
		t.Fatalf("pending entry status = %q, want uploaded", e.Status())
	}
}

func TestUnknownPlatformMarksFailed(t *testing.T) {
	t.Parallel()
	st, _, _, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	eid, _ := st.CreateScheduleEntry(ctx, pid, time.Now().Add(-time.Minute),
		map[string]string{status.KeyPlatform: "myspace"})

	n, err := d.Dispatch(ctx, pid)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("submitted %d jobs, want 0", n)
	}
	e, err := st.GetEntry(ctx, eid)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if e.Status() != status.Failed {
		t.Fatalf("status = %q, want failed", e.Status())
	}
}

func TestFailedUploadRecordsPlatformError(t *testing.T) {
	t.Parallel()
	st, _, up, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	eid, _ := st.CreateScheduleEntry(ctx, pid, time.Now().Add(-time.Minute), entryMeta(nil))
	up.mu.Lock()
	up.fail[eid] = errors.New("upload rejected")
	up.mu.Unlock()

	if _, err := d.Dispatch(ctx, pid); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		e, err := st.GetEntry(ctx, eid)
		return err == nil && e.Status() == status.Failed
	})
}

func TestSuccessfulUploadRecordsPlatformID(t *testing.T) {
	t.Parallel()
	st, _, _, d := newTestEnv(t)
	ctx := context.Background()

	pid, _ := st.CreateProject(ctx, "f", "p", nil)
	eid, _ := st.CreateScheduleEntry(ctx, pid, time.Now().Add(-time.Minute), entryMeta(map[string]string{
		status.KeyCaption: "hello",
	}))

	if _, err := d.Dispatch(ctx, pid); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		e, err := st.GetEntry(ctx, eid)
		return err == nil && e.Status() == status.Uploaded
	})

	e, _ := st.GetEntry(ctx, eid)
	if e.Metadata[status.KeyPlatformID] != "media-123" {
		t.Fatalf("platform id not recorded: %+v", e.Metadata)
	}
	if e.Metadata[status.KeyCaption] != "hello" {
		t.Fatalf("caption lost: %+v", e.Metadata)
	}
}

func TestDispatchAll(t *testing.T) {
	t.Parallel()
	st, _, up, d := newTestEnv(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 2; i++ {
		pid, _ := st.CreateProject(ctx, "f", "p", nil)
		if _, err := st.CreateScheduleEntry(ctx, pid, past, entryMeta(nil)); err != nil {
			t.Fatalf("CreateScheduleEntry: %v", err)
		}
	}

	n, err := d.DispatchAll(ctx)
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("submitted %d jobs, want 2", n)
	}
	waitFor(t, 2*time.Second, func() bool { return up.callCount() == 2 })
}

func TestNormalizeSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "09:00", want: "0 9 * * *"},
		{raw: "23:45", want: "45 23 * * *"},
		{raw: "*/5 * * * *", want: "*/5 * * * *"},
	}
	for _, tt := range tests {
		got, err := normalizeSpec(tt.raw)
		if err != nil {
			t.Fatalf("normalizeSpec(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("normalizeSpec(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
	if _, err := normalizeSpec("  "); err == nil {
		t.Fatal("expected error for empty spec")
	}
}
