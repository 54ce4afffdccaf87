// Package shell manages interactive text channels to lab devices: spawning
// the transport process, the login handshake, and prompt-driven command
// execution over SSH, Telnet, and serial consoles.
package shell

import (
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/topology-connect/topoconnect/pkg/util"
)

// Match is the result of a successful Expect: which pattern won the race and
// everything the remote printed before the match.
type Match struct {
	Index  int
	Before string
}

// Channel is a byte-oriented interactive connection to a remote process.
// A Channel is owned by exactly one Session and must not be shared.
type Channel interface {
	// Send writes data to the remote side, appending a newline when requested.
	Send(data string, newline bool) error

	// Expect blocks until one of the patterns matches the accumulated output,
	// the timeout expires (util.ErrExpectTimeout), or the remote end hangs up
	// (util.ErrChannelClosed). On success the matched text and everything
	// before it are consumed from the buffer.
	Expect(patterns []*regexp.Regexp, timeout time.Duration) (Match, error)

	// Tail returns the unconsumed trailing output. Valid after a timeout,
	// which is how download progress is inspected.
	Tail() string

	Close() error
}

// procChannel runs the connect command as a subprocess and pumps its combined
// stdout/stderr into a buffer that Expect races patterns over.
type procChannel struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	buf    []byte
	closed bool

	notify chan struct{}
}

// Spawn starts the given connect argv and returns a Channel speaking to it.
func Spawn(argv []string) (Channel, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty connect command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: stdin: %w", argv[0], err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: stdout: %w", argv[0], err)
	}
	// Interleave stderr with stdout: login prompts often arrive on stderr.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}
	util.Debugf("spawned %v (pid %d)", argv, cmd.Process.Pid)

	c := &procChannel{
		cmd:    cmd,
		stdin:  stdin,
		notify: make(chan struct{}, 1),
	}
	go c.readLoop(stdout)
	return c, nil
}

func (c *procChannel) readLoop(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, chunk[:n]...)
			c.mu.Unlock()
			c.ping()
		}
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.ping()
			c.cmd.Wait()
			return
		}
	}
}

func (c *procChannel) ping() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *procChannel) Send(data string, newline bool) error {
	if newline {
		data += "\n"
	}
	if _, err := io.WriteString(c.stdin, data); err != nil {
		return fmt.Errorf("channel send: %w", util.ErrChannelClosed)
	}
	return nil
}

func (c *procChannel) Expect(patterns []*regexp.Regexp, timeout time.Duration) (Match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		s := string(c.buf)
		for i, re := range patterns {
			loc := re.FindStringIndex(s)
			if loc == nil {
				continue
			}
			before := s[:loc[0]]
			c.buf = []byte(s[loc[1]:])
			c.mu.Unlock()
			return Match{Index: i, Before: before}, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Match{Index: -1, Before: s}, util.ErrChannelClosed
		}

		select {
		case <-c.notify:
		case <-timer.C:
			return Match{Index: -1, Before: s}, util.ErrExpectTimeout
		}
	}
}

func (c *procChannel) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func (c *procChannel) Close() error {
	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	return nil
}
