package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
)

type sentMessage struct {
	subject, body string
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, subject, body string) error {
	f.sent = append(f.sent, sentMessage{subject, body})
	return f.err
}

var clock = time.Date(2021, 6, 28, 12, 0, 0, 0, time.Local)

type fixture struct {
	logDir    string
	backupDir string
	notifier  *fakeNotifier
	logs      *bytes.Buffer
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		logDir:    filepath.Join(root, "data"),
		backupDir: filepath.Join(root, "data", "backup"),
		notifier:  &fakeNotifier{},
		logs:      &bytes.Buffer{},
	}
	if err := os.MkdirAll(f.logDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f.svc = NewService(config.File{
		LogDir:    f.logDir,
		BackupDir: f.backupDir,
		Wait:      config.Seconds(time.Minute),
	}, f.notifier, slog.New(slog.NewTextHandler(f.logs, nil)))
	f.svc.now = func() time.Time { return clock }
	f.svc.modTime = func(string) (time.Time, error) { return clock.Add(-5 * time.Second), nil }
	f.svc.sleep = func(context.Context, time.Duration) error {
		t.Fatal("unexpected wait")
		return nil
	}
	return f
}

func (f *fixture) createStore(t *testing.T, name string, probes, rows int) string {
	t.Helper()
	path := filepath.Join(f.logDir, name)
	s, err := store.Open(context.Background(), path, probes, db.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	values := make([]float64, 3*probes)
	for i := 0; i < rows; i++ {
		for j := range values {
			values[j] = float64(i) + float64(j)/10
		}
		if _, err := s.Append(context.Background(), clock.Add(time.Duration(i)*time.Minute), values); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return path
}

func count(t *testing.T, path string) int64 {
	t.Helper()
	s, err := store.OpenExisting(context.Background(), path, db.Options{}, nil)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer s.Close()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRunVerified(t *testing.T) {
	f := newFixture(t)
	f.createStore(t, "iTHX-W3-5_01234.sqlite3", 1, 5)
	f.createStore(t, "iTHX-W_56789.sqlite3", 2, 3)

	// stale quarantine from an earlier failed pass
	if err := os.MkdirAll(filepath.Join(f.backupDir, "corrupt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(f.backupDir, "corrupt", "iTHX-W3-5_01234.sqlite3")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.State != Verified || !rec.IntegrityOK || !rec.CopyMade || !rec.Verified || rec.Err != nil {
			t.Fatalf("unexpected record %+v", rec)
		}
		if rec.SourceRows != rec.CopyRows {
			t.Fatalf("row counts differ: %+v", rec)
		}
	}
	if records[0].SourceRows != 5 || filepath.Base(records[0].Source) != "iTHX-W3-5_01234.sqlite3" {
		t.Fatalf("unexpected first record %+v", records[0])
	}

	if got := count(t, filepath.Join(f.backupDir, "iTHX-W_56789.sqlite3")); got != 3 {
		t.Fatalf("expected 3 rows in the backup, got %d", got)
	}
	if exists(stale) {
		t.Fatal("stale corrupt copy must be removed after a verified backup")
	}
	if exists(filepath.Join(f.backupDir, ".iTHX-W_56789.sqlite3.partial")) {
		t.Fatal("partial copy left behind")
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("unexpected notifications %+v", f.notifier.sent)
	}
	if !strings.Contains(f.logs.String(), "----- START  BACKUP -----") || !strings.Contains(f.logs.String(), "----- FINISH BACKUP -----") {
		t.Fatalf("missing start/finish lines in %q", f.logs.String())
	}
}

func TestRunCorrupt(t *testing.T) {
	f := newFixture(t)
	good := f.createStore(t, "a_good.sqlite3", 1, 2)
	bad := filepath.Join(f.logDir, "b_bad.sqlite3")
	junk := bytes.Repeat([]byte("not a database "), 300)
	if err := os.WriteFile(bad, junk, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(records) != 2 || records[0].State != Verified {
		t.Fatalf("the good store must still be backed up: %+v", records)
	}
	rec := records[1]
	if rec.State != Corrupt || rec.IntegrityOK || rec.CopyMade || rec.Err == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.Contains(rec.Err.Error(), "integrity check failed for b_bad.sqlite3") {
		t.Fatalf("unexpected error %v", rec.Err)
	}

	got, err := os.ReadFile(bad)
	if err != nil || !bytes.Equal(got, junk) {
		t.Fatal("the corrupt original must be left untouched")
	}
	if exists(filepath.Join(f.backupDir, "b_bad.sqlite3")) {
		t.Fatal("no copy may be made of a corrupt store")
	}
	marker, err := os.ReadFile(filepath.Join(f.backupDir, "corrupt", "b_bad.sqlite3.txt"))
	if err != nil || !strings.Contains(string(marker), "integrity check failed") {
		t.Fatalf("expected a corrupt marker, got %q (%v)", marker, err)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].subject != "[omega-logger] Database backup issue" {
		t.Fatalf("expected one notification, got %+v", f.notifier.sent)
	}
	if count(t, filepath.Join(f.backupDir, filepath.Base(good))) != 2 {
		t.Fatal("good store backup incomplete")
	}
}

func TestRunWaitsUntilSafe(t *testing.T) {
	f := newFixture(t)
	f.createStore(t, "iTHX-W3-5_01234.sqlite3", 1, 1)
	final := filepath.Join(f.backupDir, "iTHX-W3-5_01234.sqlite3")

	now := clock
	f.svc.now = func() time.Time { return now }
	// a write has just happened
	f.svc.modTime = func(string) (time.Time, error) { return clock.Add(-500 * time.Millisecond), nil }
	sleeps := 0
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		sleeps++
		if exists(final) || exists(filepath.Join(f.backupDir, ".iTHX-W3-5_01234.sqlite3.partial")) {
			t.Fatal("copy started before the store was safe")
		}
		now = now.Add(2 * time.Second)
		return nil
	}

	records, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sleeps != 1 {
		t.Fatalf("expected one wait, got %d", sleeps)
	}
	if records[0].State != Verified || !exists(final) {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.createStore(t, "iTHX-W3-5_01234.sqlite3", 1, 1)
	f.svc.modTime = func(string) (time.Time, error) { return clock, nil }
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	records, err := f.svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(records) != 1 || records[0].CopyMade {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSafe(t *testing.T) {
	s := &Service{wait: time.Minute}
	tests := []struct {
		dt   time.Duration
		want bool
	}{
		{500 * time.Millisecond, false},
		{time.Second, false},
		{2 * time.Second, true},
		{9 * time.Second, true},
		{10 * time.Second, false},
		{30 * time.Second, false},
		{2 * time.Minute, false},
		{5 * time.Minute, false},
		{6 * time.Minute, true},
	}
	for _, tt := range tests {
		if got := s.safe(tt.dt); got != tt.want {
			t.Errorf("safe(%v) = %v, want %v", tt.dt, got, tt.want)
		}
	}
}

func TestVerifyDetectsDifferences(t *testing.T) {
	tests := []struct {
		name       string
		copyRows   int
		alter      bool
		wantSubstr string
	}{
		{"missing rows", 2, false, "missing 1 record(s)"},
		{"extra rows", 4, false, "contains more records than the original database"},
		{"different row", 3, true, "record mismatch"},
		{"identical", 3, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			srcPath := f.createStore(t, "src.sqlite3", 1, 3)
			copyPath := f.createStore(t, "copy.sqlite3", 1, tt.copyRows)
			if tt.alter {
				c, err := db.Open(copyPath, db.Options{})
				if err != nil {
					t.Fatalf("open copy: %v", err)
				}
				if _, err := c.Exec(`UPDATE data SET temperature = 99 WHERE pid = 2`); err != nil {
					t.Fatalf("update: %v", err)
				}
				_ = c.Close()
			}

			src, err := store.OpenExisting(context.Background(), srcPath, db.Options{}, nil)
			if err != nil {
				t.Fatalf("open src: %v", err)
			}
			defer src.Close()

			var rec Record
			msg, err := f.svc.verify(context.Background(), src, copyPath, &rec)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if tt.wantSubstr == "" {
				if msg != "" {
					t.Fatalf("expected a match, got %q", msg)
				}
				return
			}
			if !strings.Contains(msg, tt.wantSubstr) {
				t.Fatalf("expected %q in %q", tt.wantSubstr, msg)
			}
		})
	}
}

func TestMismatchPreservesPreviousBackup(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(filepath.Join(f.backupDir, "corrupt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	previous := filepath.Join(f.backupDir, "x.sqlite3")
	partial := filepath.Join(f.backupDir, ".x.sqlite3.partial")
	if err := os.WriteFile(previous, []byte("good"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(partial, []byte("bad"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.notifier.err = errors.New("smtp down")

	rec := f.svc.mismatch(context.Background(), f.svc.logger, Record{Source: filepath.Join(f.logDir, "x.sqlite3")}, partial, "verifying backup failed for x.sqlite3")
	if rec.State != Mismatch || rec.Err == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if got, _ := os.ReadFile(previous); string(got) != "good" {
		t.Fatal("the previous backup must be preserved")
	}
	if got, _ := os.ReadFile(filepath.Join(f.backupDir, "corrupt", "x.sqlite3")); string(got) != "bad" {
		t.Fatal("the failed copy must be quarantined")
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.sent))
	}
	if !strings.Contains(f.logs.String(), "cannot send email") {
		t.Fatal("a failed notification must be logged")
	}
}

func TestLastModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.sqlite3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	got, err := lastModified(path)
	if err != nil || !got.Equal(old) {
		t.Fatalf("expected %v, got %v (%v)", old, got, err)
	}

	if err := os.WriteFile(path+"-wal", []byte("frames"), 0o644); err != nil {
		t.Fatalf("write wal: %v", err)
	}
	recent := old.Add(30 * time.Minute)
	if err := os.Chtimes(path+"-wal", recent, recent); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if got, _ := lastModified(path); !got.Equal(recent) {
		t.Fatalf("expected the WAL mtime %v, got %v", recent, got)
	}

	if _, err := lastModified(filepath.Join(dir, "missing.sqlite3")); err == nil {
		t.Fatal("expected an error for a missing store")
	}
}
