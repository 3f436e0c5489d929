package proc

import (
	"context"
	"testing"
	"time"
)

func TestStartReadsLines(t *testing.T) {
	h, err := Start(context.Background(), "sh", []string{"-c", "printf 'one\\ntwo\\n\\nthree\\n'"}, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []string
	for line := range h.Lines() {
		got = append(got, line)
	}
	<-h.Done()

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if h.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", h.ExitCode())
	}
	if h.Err() != nil {
		t.Errorf("err = %v, want nil", h.Err())
	}
}

func TestStartNonZeroExit(t *testing.T) {
	h, err := Start(context.Background(), "sh", []string{"-c", "exit 3"}, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for range h.Lines() {
	}
	<-h.Done()
	if h.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", h.ExitCode())
	}
	if h.Err() == nil {
		t.Error("expected wait error for non-zero exit")
	}
}

func TestKill(t *testing.T) {
	h, err := Start(context.Background(), "sleep", []string{"30"}, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.Kill()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
	if !h.Killed() {
		t.Error("Killed() = false after Kill")
	}
	if h.ExitCode() == 0 {
		t.Error("expected non-zero exit code after kill")
	}
}

func TestTimeout(t *testing.T) {
	h, err := Start(context.Background(), "sleep", []string{"30"}, Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit at deadline")
	}
	if h.Err() == nil {
		t.Error("expected error after deadline kill")
	}
}

func TestOutput(t *testing.T) {
	out, err := Output(context.Background(), "sh", []string{"-c", "printf hello"}, time.Second)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestOutputErrorIncludesStderr(t *testing.T) {
	_, err := Output(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 1"}, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "boom"; !contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (s == sub || len(sub) == 0 || index(s, sub) >= 0)
}

func index(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
