package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/telemetry/logger"
	"github.com/yndnr/nestkv/pkg/value"
)

var errCheckpointAborted = errors.New("checkpoint aborted")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T, path string, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	db, err := Open(path, 0, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

// kill stops db the way a crash would: no final checkpoint runs.
func kill(t *testing.T, db *DB) {
	t.Helper()
	db.closeOnce.Do(func() {
		close(db.stopCh)
		<-db.doneCh
		db.closed.Store(true)
		db.journal.Close()
		db.lock.release()
		db.closeErr = ErrClosed
	})
}

func mustClose(t *testing.T, db *DB) value.Map {
	t.Helper()
	final, err := db.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	return final
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestOpen_EmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	if n := len(db.State()); n != 0 {
		t.Fatalf("len(State) = %d, want 0", n)
	}
	if _, ok := db.Get("missing"); ok {
		t.Fatal("Get(missing) ok = true, want false")
	}
	if v := db.GetOr("missing", value.Int(7)); !value.Equal(v, value.Int(7)) {
		t.Fatalf("GetOr = %s, want 7", v)
	}

	final := mustClose(t, db)
	if len(final) != 0 {
		t.Fatalf("final = %s, want empty", final.Value())
	}
	if !fileExists(path) {
		t.Fatal("Close did not write a snapshot")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	steps := []func() error{
		func() error { return db.Assoc("a", value.Int(1)) },
		func() error { return db.Assoc("f", value.Float(2)) },
		func() error { return db.AssocIn(value.Path{"user", "name"}, value.String("ada")) },
		func() error { return db.AssocIn(value.Path{"user", "tags"}, value.List(value.String("x"))) },
		func() error { return db.Assoc("gone", value.Bool(true)) },
		func() error { return db.Dissoc("gone") },
		func() error { return db.DissocIn(value.Path{"user"}, "tags") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := value.MustOf(map[string]any{
		"a":    1,
		"f":    2.0,
		"user": map[string]any{"name": "ada"},
	}).MustMap()

	final := mustClose(t, db)
	if !value.MapEqual(final, want) {
		t.Fatalf("final = %s, want %s", final.Value(), want.Value())
	}

	db = openTestDB(t, path)
	defer db.Close()
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("reopened = %s, want %s", got.Value(), want.Value())
	}
	if v, ok := db.GetIn(value.Path{"user", "name"}); !ok || !value.Equal(v, value.String("ada")) {
		t.Fatalf("GetIn(user.name) = (%s, %v)", v, ok)
	}
}

func TestKillAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	if err := db.Assoc("a", value.Int(1)); err != nil {
		t.Fatalf("Assoc: %v", err)
	}
	if err := db.Assoc("b", value.Int(2)); err != nil {
		t.Fatalf("Assoc: %v", err)
	}
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()

	want := value.Map{"a": value.Int(1), "b": value.Int(2)}
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("state = %s, want %s", got.Value(), want.Value())
	}
	if got := db.Stats().RecoveredRecords; got != 2 {
		t.Fatalf("RecoveredRecords = %d, want 2", got)
	}
}

func TestRecovery_StartupCheckpointEmptiesJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	db.Assoc("a", value.Int(1))
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()

	st, err := os.Stat(journal.ActivePath(path))
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("journal size = %d after recovery, want 0", st.Size())
	}
	if fileExists(journal.RetiredPath(path)) {
		t.Fatal("retired journal present after recovery")
	}
}

func TestCrashMidCheckpoint(t *testing.T) {
	for _, stage := range []checkpointHook{hookAfterRotate, hookAfterSnapshot} {
		name := map[checkpointHook]string{hookAfterRotate: "after-rotate", hookAfterSnapshot: "after-snapshot"}[stage]
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")
			db := openTestDB(t, path)

			db.Assoc("a", value.Int(1))
			db.AssocIn(value.Path{"m", "x"}, value.Int(1))
			db.testHook = func(h checkpointHook) error {
				if h == stage {
					return errCheckpointAborted
				}
				return nil
			}
			if _, err := db.Checkpoint(context.Background()); !errors.Is(err, errCheckpointAborted) {
				t.Fatalf("Checkpoint err = %v, want aborted", err)
			}
			if db.Stats().LastCheckpointError == nil {
				t.Fatal("LastCheckpointError = nil after failed checkpoint")
			}

			// Mutations after the interrupted checkpoint land in the new journal.
			db.Assoc("b", value.Int(2))
			db.DissocIn(value.Path{"m"}, "x")
			want := db.State()
			kill(t, db)

			if !fileExists(journal.RetiredPath(path)) {
				t.Fatal("retired journal missing after interrupted checkpoint")
			}

			db = openTestDB(t, path)
			defer db.Close()
			if got := db.State(); !value.MapEqual(got, want) {
				t.Fatalf("recovered = %s, want %s", got.Value(), want.Value())
			}
		})
	}
}

func TestCheckpoint_RetriesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	db.Assoc("a", value.Int(1))
	db.testHook = func(h checkpointHook) error {
		if h == hookAfterRotate {
			return errCheckpointAborted
		}
		return nil
	}
	db.Checkpoint(context.Background())
	db.testHook = nil

	db.Assoc("b", value.Int(2))
	info, err := db.Checkpoint(context.Background())
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if info.Keys != 2 || info.ID == "" {
		t.Fatalf("info = %+v, want 2 keys", info)
	}
	if fileExists(journal.RetiredPath(path)) {
		t.Fatal("retired journal present after successful checkpoint")
	}

	stats := db.Stats()
	if stats.Checkpoints != 1 || stats.FailedCheckpoints != 1 || stats.LastCheckpointError != nil {
		t.Fatalf("stats = %+v", stats)
	}
	mustClose(t, db)
}

func TestTornJournalTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	db.Assoc("a", value.Int(1))
	kill(t, db)

	f, err := os.OpenFile(journal.ActivePath(path), os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	f.WriteString(`["assoc","b",{"half`)
	f.Close()

	db = openTestDB(t, path)
	if got := db.State(); !value.MapEqual(got, value.Map{"a": value.Int(1)}) {
		t.Fatalf("state = %s, want only a", got.Value())
	}
	db.Assoc("c", value.Int(3))
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()
	want := value.Map{"a": value.Int(1), "c": value.Int(3)}
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("state = %s, want %s", got.Value(), want.Value())
	}
}

func TestUnknownJournalActionIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	lines := `["assoc","a",1]` + "\n" + `["merge","a",{"x":1}]` + "\n" + `["assoc","b",2]` + "\n"
	if err := os.WriteFile(journal.ActivePath(path), []byte(lines), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	db := openTestDB(t, path)
	defer db.Close()
	want := value.Map{"a": value.Int(1), "b": value.Int(2)}
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("state = %s, want %s", got.Value(), want.Value())
	}
}

func TestInapplicableJournalRecordSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	long := strings.Repeat("x", 200)
	lines := `["assoc","a",1]` + "\n" + `["assoc-in",[],"` + long + `"]` + "\n" + `["assoc","b",2]` + "\n"
	if err := os.WriteFile(journal.ActivePath(path), []byte(lines), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	l, err := logger.New(logger.Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	db, err := Open(path, 0, WithLogger(l.Slog()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	want := value.Map{"a": value.Int(1), "b": value.Int(2)}
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("state = %s, want %s", got.Value(), want.Value())
	}
	out := buf.String()
	if !strings.Contains(out, "skipping journal record") {
		t.Fatalf("missing skip warning:\n%s", out)
	}
	if strings.Contains(out, long) || !strings.Contains(out, `..."`) {
		t.Fatalf("logged value was not truncated:\n%s", out)
	}
}

func TestCompressionTransparency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path, WithCompressed(true))
	db.AssocIn(value.Path{"x", "y"}, value.String("z"))
	db.Assoc("n", value.Int(42))
	final := mustClose(t, db)

	f, err := os.Open(path + ".gz")
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	v, err := value.Decode(zr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !value.Equal(v, final.Value()) {
		t.Fatalf("decoded %s, want %s", v, final.Value())
	}

	// The journal is never compressed.
	raw, _ := os.ReadFile(journal.ActivePath(path))
	if len(raw) != 0 {
		t.Fatalf("journal not empty after close: %q", raw)
	}
}

func TestCompressionSwitch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	db.Assoc("a", value.Int(1))
	mustClose(t, db)

	for _, c := range []Compression{CompressionZstd, CompressionSnappy, CompressionGzip} {
		db = openTestDB(t, path, WithCompression(c))
		if got := db.State(); !value.MapEqual(got, value.Map{"a": value.Int(1)}) {
			t.Fatalf("%s: state = %s", c, got.Value())
		}
		mustClose(t, db)

		if !fileExists(path + c.Suffix()) {
			t.Fatalf("%s snapshot missing", c)
		}
	}
	if fileExists(path) || fileExists(path+".zst") || fileExists(path+".sz") {
		t.Fatal("stale snapshot variants left behind")
	}
}

func TestDissocInAbsentContainerIsJournaled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	db.Assoc("k", value.Int(1))

	if err := db.DissocIn(value.Path{"no", "such"}, "k"); err != nil {
		t.Fatalf("DissocIn: %v", err)
	}
	if got := db.State(); !value.MapEqual(got, value.Map{"k": value.Int(1)}) {
		t.Fatalf("state = %s", got.Value())
	}
	kill(t, db)

	var actions []string
	journal.Replay(journal.ActivePath(path), func(rec journal.Record) error {
		actions = append(actions, rec.Action.String())
		return nil
	})
	if strings.Join(actions, ",") != "assoc,dissoc-in" {
		t.Fatalf("journal actions = %v, want assoc,dissoc-in", actions)
	}
}

func TestUpdateIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	defer db.Close()

	add := func(cur value.Value, args ...value.Value) (value.Value, error) {
		n, _ := cur.AsInt()
		for _, a := range args {
			d, _ := a.AsInt()
			n += d
		}
		return value.Int(n), nil
	}

	if err := db.UpdateIn(value.Path{"counters", "hits"}, add, value.Int(5), value.Int(2)); err != nil {
		t.Fatalf("UpdateIn: %v", err)
	}
	if v, _ := db.GetIn(value.Path{"counters", "hits"}); !value.Equal(v, value.Int(7)) {
		t.Fatalf("hits = %s, want 7", v)
	}

	boom := errors.New("boom")
	err := db.UpdateIn(value.Path{"counters", "hits"}, func(value.Value, ...value.Value) (value.Value, error) {
		return value.Value{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateIn err = %v, want boom", err)
	}
	if v, _ := db.GetIn(value.Path{"counters", "hits"}); !value.Equal(v, value.Int(7)) {
		t.Fatalf("hits = %s after failed update, want 7", v)
	}
}

func TestUpdateIn_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	incr := func(cur value.Value, _ ...value.Value) (value.Value, error) {
		n, _ := cur.AsInt()
		return value.Int(n + 1), nil
	}

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := db.UpdateIn(value.Path{"n"}, incr); err != nil {
					t.Errorf("UpdateIn: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()
	if v, _ := db.Get("n"); !value.Equal(v, value.Int(workers*perWorker)) {
		t.Fatalf("n = %s, want %d", v, workers*perWorker)
	}
}

func TestConcurrentWritersWithCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := Open(path, 5*time.Millisecond, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := string(rune('a' + g))
			for i := 0; i < 100; i++ {
				if err := db.AssocIn(value.Path{"w", key}, value.Int(int64(i))); err != nil {
					t.Errorf("AssocIn: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	want := db.State()
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("recovered = %s, want %s", got.Value(), want.Value())
	}
}

func TestSyncModes(t *testing.T) {
	for _, mode := range []SyncMode{SyncModeAsync, SyncModeWrite, SyncModeSync} {
		t.Run(string(mode), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")
			db := openTestDB(t, path, WithSyncMode(mode))
			for i := 0; i < 20; i++ {
				if err := db.Assoc("k", value.Int(int64(i))); err != nil {
					t.Fatalf("Assoc: %v", err)
				}
			}
			if err := db.Sync(); err != nil {
				t.Fatalf("Sync: %v", err)
			}
			kill(t, db)

			db = openTestDB(t, path)
			defer db.Close()
			if v, _ := db.Get("k"); !value.Equal(v, value.Int(19)) {
				t.Fatalf("k = %s, want 19", v)
			}
		})
	}
}

func TestScheduledCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	reg := prometheus.NewRegistry()

	var handled []error
	var mu sync.Mutex
	db, err := Open(path, 10*time.Millisecond,
		WithLogger(discardLogger()),
		WithRegisterer(reg),
		WithErrorHandler(func(err error) {
			mu.Lock()
			handled = append(handled, err)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Assoc("a", value.Int(1))

	deadline := time.Now().Add(5 * time.Second)
	for db.Stats().Checkpoints == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no scheduled checkpoint within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if got := strings.TrimSpace(string(snap)); got != `{"a":1}` {
		t.Fatalf("snapshot = %s, want {\"a\":1}", got)
	}

	// Clean ticks are skipped.
	time.Sleep(50 * time.Millisecond)
	if n := db.Stats().Checkpoints; n != 1 {
		t.Fatalf("Checkpoints = %d, want 1", n)
	}
	if n, err := testutil.GatherAndCount(reg, "nestkv_checkpoint_total"); err != nil || n == 0 {
		t.Fatalf("GatherAndCount = (%d, %v), want checkpoint series", n, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 0 {
		t.Fatalf("error handler called: %v", handled)
	}
}

func TestClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	db.Assoc("a", value.Int(1))
	final := mustClose(t, db)

	if err := db.Assoc("b", value.Int(2)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Assoc after Close err = %v, want ErrClosed", err)
	}
	if err := db.UpdateIn(value.Path{"a"}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("UpdateIn after Close err = %v, want ErrClosed", err)
	}
	if _, err := db.Checkpoint(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Checkpoint after Close err = %v, want ErrClosed", err)
	}
	if err := db.Sync(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Sync after Close err = %v, want ErrClosed", err)
	}

	again, err := db.Close()
	if err != nil || !value.MapEqual(again, final) {
		t.Fatalf("second Close = (%s, %v), want (%s, nil)", again.Value(), err, final.Value())
	}
}

func TestEmptyPath(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "db"))
	defer db.Close()

	if err := db.AssocIn(nil, value.Int(1)); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("AssocIn(nil) err = %v, want ErrEmptyPath", err)
	}
	if err := db.UpdateIn(value.Path{}, nil); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("UpdateIn(empty) err = %v, want ErrEmptyPath", err)
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	if err := db.Assoc("k", value.String("ok")); err != nil {
		t.Fatalf("Assoc: %v", err)
	}
	if err := db.Assoc("k", value.String("\xff\xfe")); !errors.Is(err, value.ErrInvalidUTF8) {
		t.Fatalf("Assoc invalid value err = %v, want ErrInvalidUTF8", err)
	}
	if err := db.Assoc("bad\xffkey", value.Int(1)); !errors.Is(err, value.ErrInvalidUTF8) {
		t.Fatalf("Assoc invalid key err = %v, want ErrInvalidUTF8", err)
	}
	if err := db.AssocIn(value.Path{"m", "b\xffd"}, value.Int(1)); !errors.Is(err, value.ErrInvalidUTF8) {
		t.Fatalf("AssocIn invalid segment err = %v, want ErrInvalidUTF8", err)
	}

	want := value.Map{"k": value.String("ok")}
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("State = %s, want %s", got.Value(), want.Value())
	}

	// The journal is still usable after the rejected writes.
	if err := db.Assoc("after", value.Int(2)); err != nil {
		t.Fatalf("Assoc after rejection: %v", err)
	}
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()
	want["after"] = value.Int(2)
	if got := db.State(); !value.MapEqual(got, want) {
		t.Fatalf("State after reopen = %s, want %s", got.Value(), want.Value())
	}
}

func TestSmallQueue_NoLoss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path, WithQueueSize(1), WithSyncMode(SyncModeSync))

	const workers, perWorker = 6, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := db.AssocIn(value.Path{"w", string(rune('a' + i))}, value.Int(int64(j))); err != nil {
					t.Errorf("AssocIn: %v", err)
					return
				}
				db.GetIn(value.Path{"w"})
			}
		}(i)
	}
	wg.Wait()
	kill(t, db)

	db = openTestDB(t, path)
	defer db.Close()
	for i := 0; i < workers; i++ {
		p := value.Path{"w", string(rune('a' + i))}
		if v, _ := db.GetIn(p); !value.Equal(v, value.Int(perWorker-1)) {
			t.Fatalf("%s = %s, want %d", p, v, perWorker-1)
		}
	}
}

func TestOpen_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)

	if _, err := Open(path, 0, WithLogger(discardLogger())); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open err = %v, want ErrLocked", err)
	}

	mustClose(t, db)
	db = openTestDB(t, path)
	mustClose(t, db)
}

func TestOpen_InvalidOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	if _, err := Open(path, 0, WithCompression("lz4")); err == nil {
		t.Fatal("Open with unknown compression error = nil")
	}
	if _, err := Open(path, 0, WithSyncMode("never")); err == nil {
		t.Fatal("Open with unknown sync mode error = nil")
	}
	if _, err := Open("", 0); err == nil {
		t.Fatal("Open with empty path error = nil")
	}
}
