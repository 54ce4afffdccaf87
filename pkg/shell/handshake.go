package shell

import (
	"errors"
	"regexp"
	"time"

	"github.com/topology-connect/topoconnect/pkg/util"
)

// HandshakeOutcome records which login sequence a freshly spawned channel
// turned out to be in. Produced once per connect, never stored.
type HandshakeOutcome int

const (
	// AuthViaUserPrompt: the remote asked for a username (and possibly a
	// password afterwards).
	AuthViaUserPrompt HandshakeOutcome = iota
	// AuthViaInlineUser: the transport already consumed the username
	// (user@host form) and went straight to the password prompt.
	AuthViaInlineUser
	// AuthViaPassword: no user was declared; the remote asked only for a
	// password.
	AuthViaPassword
	// AlreadyAtPrompt: credentials were resolved by the transport layer and
	// the shell prompt arrived directly.
	AlreadyAtPrompt
	// TimedOut: no recognizable prompt arrived in time.
	TimedOut
)

func (o HandshakeOutcome) String() string {
	switch o {
	case AuthViaUserPrompt:
		return "user-prompt"
	case AuthViaInlineUser:
		return "inline-user"
	case AuthViaPassword:
		return "password"
	case AlreadyAtPrompt:
		return "already-at-prompt"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

// HandshakeConfig declares the credentials and prompt patterns for a login
// handshake. User and Password are optional; an empty value skips that step.
type HandshakeConfig struct {
	Device         string
	User           string
	Password       string
	UserPrompt     *regexp.Regexp
	PasswordPrompt *regexp.Regexp
	InitialPrompt  *regexp.Regexp
	Timeout        time.Duration
}

// Handshake drives a freshly spawned channel through login. The remote's
// exact sequence cannot be predicted up front: the transport may have
// resolved credentials already, or exactly one of a user or password prompt
// may appear, or both. Each step therefore races every prompt that could
// legally arrive next instead of assuming a fixed order.
func Handshake(ch Channel, cfg HandshakeConfig) (HandshakeOutcome, error) {
	outcome := AlreadyAtPrompt

	if cfg.User != "" {
		m, err := ch.Expect([]*regexp.Regexp{
			cfg.UserPrompt,
			cfg.InitialPrompt,
			cfg.PasswordPrompt,
		}, cfg.Timeout)
		if err != nil {
			return TimedOut, handshakeFailure(cfg.Device, err, m.Before)
		}
		switch m.Index {
		case 0:
			// Asked for a username.
			if err := ch.Send(cfg.User, true); err != nil {
				return TimedOut, err
			}
			outcome = AuthViaUserPrompt
		case 1:
			// Authentication already happened via the connect command
			// (user@host). Settle the shell with a bare newline.
			if err := ch.Send("", true); err != nil {
				return TimedOut, err
			}
		case 2:
			// The transport consumed the username; the password prompt is
			// already on screen, so answer it here. The password step below
			// then re-settles on the shell prompt.
			if err := ch.Send(cfg.Password, true); err != nil {
				return TimedOut, err
			}
			outcome = AuthViaInlineUser
		}
	}

	if cfg.Password != "" {
		m, err := ch.Expect([]*regexp.Regexp{
			cfg.PasswordPrompt,
			cfg.InitialPrompt,
		}, cfg.Timeout)
		if err != nil {
			return TimedOut, handshakeFailure(cfg.Device, err, m.Before)
		}
		if m.Index == 0 {
			if err := ch.Send(cfg.Password, true); err != nil {
				return TimedOut, err
			}
			if outcome == AlreadyAtPrompt {
				outcome = AuthViaPassword
			}
		} else {
			// Password not required after all.
			if err := ch.Send("", true); err != nil {
				return TimedOut, err
			}
		}
	}

	return outcome, nil
}

func handshakeFailure(device string, err error, tail string) error {
	if errors.Is(err, util.ErrChannelClosed) {
		return err
	}
	return util.NewAuthError(device, util.NoPromptObserved, tail)
}
