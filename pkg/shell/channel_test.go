package shell_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/util"
)

// The channel tests spawn a real cat process: everything written to the
// channel comes straight back, which is enough to exercise the buffer and
// the pattern race end to end.

func spawnCat(t *testing.T) shell.Channel {
	t.Helper()
	ch, err := shell.Spawn([]string{"cat"})
	if err != nil {
		t.Fatalf("Spawn(cat): %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestChannelExpect_ConsumesThroughMatch(t *testing.T) {
	ch := spawnCat(t)
	if err := ch.Send("banner\nlogin: ", false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m, err := ch.Expect([]*regexp.Regexp{regexp.MustCompile(`login: `)}, 5*time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if m.Index != 0 {
		t.Errorf("Index = %d, want 0", m.Index)
	}
	if m.Before != "banner\n" {
		t.Errorf("Before = %q, want %q", m.Before, "banner\n")
	}

	// The matched prompt is gone from the buffer: a second wait on the same
	// pattern must not see it again.
	if _, err := ch.Expect([]*regexp.Regexp{regexp.MustCompile(`login: `)}, 100*time.Millisecond); !errors.Is(err, util.ErrExpectTimeout) {
		t.Fatalf("second Expect error = %v, want ErrExpectTimeout", err)
	}
}

func TestChannelExpect_RaceReportsWinningIndex(t *testing.T) {
	ch := spawnCat(t)
	if err := ch.Send("Password: ", false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`login: `),
		regexp.MustCompile(`Password: `),
	}
	m, err := ch.Expect(patterns, 5*time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if m.Index != 1 {
		t.Errorf("Index = %d, want 1", m.Index)
	}
}

func TestChannelExpect_TimeoutLeavesTail(t *testing.T) {
	ch := spawnCat(t)
	if err := ch.Send("37%", false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, err := ch.Expect([]*regexp.Regexp{regexp.MustCompile(`never-printed`)}, 200*time.Millisecond)
	if !errors.Is(err, util.ErrExpectTimeout) {
		t.Fatalf("Expect error = %v, want ErrExpectTimeout", err)
	}
	// Give the read loop a moment in case the timeout fired before the echo
	// landed in the buffer.
	deadline := time.Now().Add(2 * time.Second)
	for ch.Tail() != "37%" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ch.Tail(); got != "37%" {
		t.Errorf("Tail() = %q, want %q", got, "37%")
	}
}

func TestChannelExpect_ClosedChannel(t *testing.T) {
	ch := spawnCat(t)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := ch.Expect([]*regexp.Regexp{regexp.MustCompile(`anything`)}, 5*time.Second)
	if !errors.Is(err, util.ErrChannelClosed) {
		t.Fatalf("Expect error = %v, want ErrChannelClosed", err)
	}
}

func TestSpawn_EmptyArgv(t *testing.T) {
	if _, err := shell.Spawn(nil); err == nil {
		t.Fatal("Spawn(nil) succeeded, want error")
	}
}
