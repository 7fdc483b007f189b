package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	s := newTestSession(t)
	out, err := s.Run(context.Background(), "echo hello", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Fatalf("unexpected stdout: %q", out.Stdout)
	}
	if out.ExitCode != 0 {
		t.Fatalf("unexpected exit code: %d", out.ExitCode)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	s := newTestSession(t)
	out, err := s.Run(context.Background(), "sh -c 'exit 3'", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", out.ExitCode)
	}
}

func TestCwdPersistsAcrossCommands(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.Run(context.Background(), "mkdir sub", 0); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := s.Run(context.Background(), "cd sub", 0); err != nil {
		t.Fatalf("cd: %v", err)
	}
	if !strings.HasSuffix(s.Cwd(), "/sub") {
		t.Fatalf("cwd did not persist, got %q", s.Cwd())
	}
}

func TestCdOutsideRootRejectedBeforeExecution(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Run(context.Background(), "cd /tmp && touch marker", 0)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	_, err = s.Run(context.Background(), "cd ..", 0)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for relative escape, got %v", err)
	}
}

func TestTimeoutMarksOutput(t *testing.T) {
	s := newTestSession(t)
	out, err := s.Run(context.Background(), "sleep 5", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut {
		t.Fatal("expected TimedOut to be set")
	}
}

func TestAbortKillsCommand(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := s.Run(ctx, "sleep 10", 0)
	if err == nil {
		t.Fatal("expected an error after abort")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("abort did not kill the command promptly")
	}
}

func TestSafetyScreenRefusesDangerousCommands(t *testing.T) {
	s := newTestSession(t)
	for _, cmd := range []string{"rm -rf /", "mkfs /dev/sda", "shutdown -h now"} {
		if _, err := s.Run(context.Background(), cmd, 0); err == nil {
			t.Fatalf("expected safety screen to refuse %q", cmd)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"git status", []string{"git status"}},
		{"git add . && git commit -m 'x; y'", []string{"git add .", "git commit -m 'x; y'"}},
		{"ls | wc -l", []string{"ls", "wc -l"}},
		{"a; b || c", []string{"a", "b", "c"}},
		{`echo "a && b"`, []string{`echo "a && b"`}},
	}
	for _, tc := range cases {
		got := SplitCommand(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("SplitCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("SplitCommand(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
