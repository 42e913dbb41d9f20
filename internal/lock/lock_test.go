package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatal(err)
	}
	if got := parsePID(string(data)); got != os.Getpid() {
		t.Errorf("lock file pid = %d, want %d", got, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); !os.IsNotExist(err) {
		t.Error("lock file survived release")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second acquire: err = %v, want HeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held pid = %d, want %d", held.PID, os.Getpid())
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l2.Release()
}

func TestReleaseNilLock(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil release: %v", err)
	}
}

func TestParsePID(t *testing.T) {
	if got := parsePID("pid=1234\ntime=2026-08-29T10:00:00Z\n"); got != 1234 {
		t.Errorf("parsePID = %d, want 1234", got)
	}
	if got := parsePID("garbage"); got != 0 {
		t.Errorf("parsePID on garbage = %d, want 0", got)
	}
}
