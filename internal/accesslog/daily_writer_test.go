package accesslog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDailyWriterCreatesDirAndWritesToTodaysFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyWriter(filepath.Join(dir, "nested"), "access")
	if err != nil {
		t.Fatalf("NewDailyWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	expected := filepath.Join(dir, "nested", "access-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("expected file %s not created: %v", expected, err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file contents = %q, want %q", data, "hello\n")
	}
}

func TestDailyWriterRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w := &DailyWriter{dir: dir, prefix: "access"}

	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	if err := w.rotateIfNeeded(day1); err != nil {
		t.Fatalf("rotate day1: %v", err)
	}
	firstFile := w.file.Name()

	day2 := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	if err := w.rotateIfNeeded(day2); err != nil {
		t.Fatalf("rotate day2: %v", err)
	}
	if w.file.Name() == firstFile {
		t.Fatal("expected rotation to a new file on date change")
	}
	w.Close()
}

func TestDailyWriterDefaultsDirAndPrefix(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.RemoveAll(filepath.Join(cwd, "logs"))

	w, err := NewDailyWriter("", "")
	if err != nil {
		t.Fatalf("NewDailyWriter: %v", err)
	}
	defer w.Close()
	if w.dir != "logs" || w.prefix != "http-requests" {
		t.Fatalf("dir=%q prefix=%q, want logs/http-requests", w.dir, w.prefix)
	}
}
