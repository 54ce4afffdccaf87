// Package testutil provides test fixtures shared across packages, chiefly a
// scripted fake channel for driving handshake and provisioning code without
// real devices.
package testutil

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/util"
)

// Reply scripts the outcome of one Expect call on a ScriptChannel.
type Reply struct {
	// Pattern is a substring of the source of the regexp expected to win the
	// race. The run records a script error if no offered pattern contains it.
	Pattern string
	// Before is the output captured ahead of the match.
	Before string

	// Timeout, when set, makes the Expect time out with Tail left as the
	// unconsumed trailing output.
	Timeout bool
	Tail    string

	// Closed, when set, makes the Expect report a remote hangup.
	Closed bool
}

// MatchReply scripts a successful pattern match.
func MatchReply(pattern, before string) Reply {
	return Reply{Pattern: pattern, Before: before}
}

// TimeoutReply scripts an expect timeout with the given trailing output.
func TimeoutReply(tail string) Reply {
	return Reply{Timeout: true, Tail: tail}
}

// ClosedReply scripts a remote hangup.
func ClosedReply() Reply {
	return Reply{Closed: true}
}

// ScriptChannel is a fake shell.Channel that replays scripted Expect replies
// and records every Send, so tests can assert both what was driven onto the
// wire and exactly where a failing sequence stopped.
type ScriptChannel struct {
	Sent    []string
	Replies []Reply
	Closes  int

	pos  int
	tail string
	errs []string
}

// NewScriptChannel builds a channel that replays the given replies in order.
func NewScriptChannel(replies ...Reply) *ScriptChannel {
	return &ScriptChannel{Replies: replies}
}

func (c *ScriptChannel) Send(data string, newline bool) error {
	if newline {
		data += "\n"
	}
	c.Sent = append(c.Sent, data)
	return nil
}

func (c *ScriptChannel) Expect(patterns []*regexp.Regexp, timeout time.Duration) (shell.Match, error) {
	if c.pos >= len(c.Replies) {
		c.errs = append(c.errs, fmt.Sprintf("expect #%d: script exhausted", c.pos))
		return shell.Match{Index: -1}, util.ErrChannelClosed
	}
	r := c.Replies[c.pos]
	c.pos++

	if r.Closed {
		c.tail = r.Tail
		return shell.Match{Index: -1, Before: r.Before}, util.ErrChannelClosed
	}
	if r.Timeout {
		c.tail = r.Tail
		return shell.Match{Index: -1, Before: r.Before}, util.ErrExpectTimeout
	}

	c.tail = ""
	for i, re := range patterns {
		if r.Pattern != "" && strings.Contains(re.String(), r.Pattern) {
			return shell.Match{Index: i, Before: r.Before}, nil
		}
	}
	var offered []string
	for _, re := range patterns {
		offered = append(offered, re.String())
	}
	c.errs = append(c.errs, fmt.Sprintf("expect #%d: scripted pattern %q not offered in %v",
		c.pos-1, r.Pattern, offered))
	return shell.Match{Index: -1, Before: r.Before}, util.ErrExpectTimeout
}

func (c *ScriptChannel) Tail() string {
	return c.tail
}

func (c *ScriptChannel) Close() error {
	c.Closes++
	return nil
}

// Errors returns scripting problems detected during the run. Tests should
// assert this is empty.
func (c *ScriptChannel) Errors() []string {
	return c.errs
}

// Remaining reports how many scripted replies were never consumed.
func (c *ScriptChannel) Remaining() int {
	return len(c.Replies) - c.pos
}

// Dialer returns a shell.Config Dial hook handing out the given channels in
// order, one per connect attempt.
func Dialer(channels ...shell.Channel) func(argv []string) (shell.Channel, error) {
	i := 0
	return func(argv []string) (shell.Channel, error) {
		if i >= len(channels) {
			return nil, fmt.Errorf("dialer: no channel scripted for connect #%d (%v)", i, argv)
		}
		ch := channels[i]
		i++
		return ch, nil
	}
}
