package shell

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/topology-connect/topoconnect/pkg/util"
)

// DefaultTimeout is the per-wait response timeout unless a session or stage
// overrides it.
const DefaultTimeout = 30 * time.Second

// Config declares everything needed to open and authenticate a session.
type Config struct {
	Device    string
	Transport TransportKind
	Connect   ConnectOptions

	User     string
	Password string

	// Prompt patterns. InitialPrompt is the shell prompt right after login;
	// Prompt is the working prompt once InitialCommand (if any) has run.
	UserPrompt     *regexp.Regexp
	PasswordPrompt *regexp.Regexp
	InitialPrompt  *regexp.Regexp
	Prompt         *regexp.Regexp

	// InitialCommand enters a sub-shell after authentication (e.g. vtysh).
	InitialCommand string

	Timeout         time.Duration
	PreConnectDelay time.Duration
	ClosingCommands []string

	// PreSetup runs against the raw channel before the handshake. Serial
	// consoles use it to steer whatever state the console was left in back
	// to the login prompt.
	PreSetup func(Channel) error

	// Dial overrides how the channel is spawned. Tests inject fakes here.
	Dial func(argv []string) (Channel, error)
}

// Session is the authenticated handle on an interactive channel. It owns the
// channel exclusively: a Session must only ever be driven from one goroutine.
type Session struct {
	cfg       Config
	prompt    *regexp.Regexp
	timeout   time.Duration
	ch        Channel
	connected bool
	outcome   HandshakeOutcome
}

// NewSession creates an unconnected session.
func NewSession(cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = Spawn
	}
	return &Session{
		cfg:     cfg,
		prompt:  cfg.Prompt,
		timeout: cfg.Timeout,
	}
}

// Connect spawns the transport process and drives the login handshake.
// A disconnected session may be reconnected; a session whose channel was
// closed by the remote end reports that as a terminal error instead.
func (s *Session) Connect() error {
	if s.connected {
		return nil
	}

	if s.cfg.PreConnectDelay > 0 {
		time.Sleep(s.cfg.PreConnectDelay)
	}

	argv := ConnectArgv(s.cfg.Transport, s.cfg.Connect)
	ch, err := s.cfg.Dial(argv)
	if err != nil {
		return fmt.Errorf("device %q: connect: %w", s.cfg.Device, err)
	}
	s.ch = ch

	if s.cfg.PreSetup != nil {
		if err := s.cfg.PreSetup(ch); err != nil {
			ch.Close()
			s.ch = nil
			return fmt.Errorf("device %q: console setup: %w", s.cfg.Device, err)
		}
	}

	outcome, err := Handshake(ch, HandshakeConfig{
		Device:         s.cfg.Device,
		User:           s.cfg.User,
		Password:       s.cfg.Password,
		UserPrompt:     s.cfg.UserPrompt,
		PasswordPrompt: s.cfg.PasswordPrompt,
		InitialPrompt:  s.cfg.InitialPrompt,
		Timeout:        s.timeout,
	})
	if err != nil {
		ch.Close()
		s.ch = nil
		return err
	}
	s.outcome = outcome

	if s.cfg.InitialCommand != "" {
		if err := s.enterInitialCommand(); err != nil {
			ch.Close()
			s.ch = nil
			return err
		}
	}

	s.connected = true
	util.WithDevice(s.cfg.Device).Debugf("authenticated (%s) over %s", outcome, s.cfg.Transport)
	return nil
}

// enterInitialCommand waits for the post-login prompt and enters the
// sub-shell. If the prompt never shows after credentials were sent, the
// credentials are the prime suspect.
func (s *Session) enterInitialCommand() error {
	if _, err := s.ch.Expect([]*regexp.Regexp{s.cfg.InitialPrompt}, s.timeout); err != nil {
		if s.cfg.User != "" || s.cfg.Password != "" {
			return util.NewAuthError(s.cfg.Device, util.CredentialRejected, s.ch.Tail())
		}
		return fmt.Errorf("device %q: no shell prompt after login: %w", s.cfg.Device, err)
	}
	if err := s.ch.Send(s.cfg.InitialCommand, true); err != nil {
		return err
	}
	if _, err := s.ch.Expect([]*regexp.Regexp{s.prompt}, s.timeout); err != nil {
		return fmt.Errorf("device %q: no prompt after %q: %w",
			s.cfg.Device, s.cfg.InitialCommand, err)
	}
	return nil
}

// Run sends a command and returns its output, captured up to the next prompt
// with the echoed command line stripped.
func (s *Session) Run(cmd string) (string, error) {
	if !s.connected {
		return "", util.ErrNotConnected
	}
	if err := s.ch.Send(cmd, true); err != nil {
		return "", err
	}
	m, err := s.ch.Expect([]*regexp.Regexp{s.prompt}, s.timeout)
	if err != nil {
		return m.Before, fmt.Errorf("device %q: running %q: %w", s.cfg.Device, cmd, err)
	}
	return stripEcho(m.Before), nil
}

// stripEcho drops the echoed command (the first line) from captured output.
func stripEcho(out string) string {
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return strings.Trim(out, "\r\n")
}

// SendRaw writes directly to the channel, bypassing prompt handling. Used
// for menu navigation keystrokes and for answers whose prompt has already
// been consumed by a prior wait.
func (s *Session) SendRaw(data string, newline bool) error {
	if s.ch == nil {
		return util.ErrNotConnected
	}
	return s.ch.Send(data, newline)
}

// ExpectPrompt waits for the current prompt with the given timeout.
// Zero means the session timeout.
func (s *Session) ExpectPrompt(timeout time.Duration) (Match, error) {
	if s.ch == nil {
		return Match{Index: -1}, util.ErrNotConnected
	}
	if timeout == 0 {
		timeout = s.timeout
	}
	return s.ch.Expect([]*regexp.Regexp{s.prompt}, timeout)
}

// SetPrompt changes the expected prompt pattern and returns the previous one,
// so stage code can swap it back afterwards.
func (s *Session) SetPrompt(p *regexp.Regexp) *regexp.Regexp {
	prev := s.prompt
	s.prompt = p
	return prev
}

// Prompt returns the current expected prompt pattern.
func (s *Session) Prompt() *regexp.Regexp {
	return s.prompt
}

// SetTimeout changes the response timeout and returns the previous one.
func (s *Session) SetTimeout(d time.Duration) time.Duration {
	prev := s.timeout
	s.timeout = d
	return prev
}

// Timeout returns the current response timeout.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// Outcome reports how the last handshake authenticated.
func (s *Session) Outcome() HandshakeOutcome {
	return s.outcome
}

// Connected reports whether the session is authenticated and usable.
func (s *Session) Connected() bool {
	return s.connected
}

// Tail returns the unconsumed trailing channel output.
func (s *Session) Tail() string {
	if s.ch == nil {
		return ""
	}
	return s.ch.Tail()
}

// Disconnect issues any declared closing commands and releases the channel.
func (s *Session) Disconnect() error {
	if s.ch == nil {
		return util.ErrAlreadyDisconnected
	}
	for _, cmd := range s.cfg.ClosingCommands {
		s.ch.Send(cmd, false)
	}
	err := s.ch.Close()
	s.ch = nil
	s.connected = false
	return err
}
