package device

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/topology-connect/topoconnect/pkg/provision"
	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/util"
)

var vtyshPrompt = regexp.MustCompile(`[\w,-]*(switch)\d*(\(.+\))?# `)

// switchNode is an OpenSwitch unit managed through a vtysh session over SSH,
// with an optional serial console used for firmware burns.
type switchNode struct {
	name  string
	attrs Attrs
	vtysh *shell.Session
	opts  Options
	sleep func(time.Duration)
}

func newSwitch(name string, attrs Attrs, opts Options) (*switchNode, error) {
	initialPrompt := regexp.MustCompile(regexp.QuoteMeta(attrs.User) + `@.+:~# `)
	vtysh := shell.NewSession(shell.Config{
		Device:    name,
		Transport: shell.SSH,
		Connect: shell.ConnectOptions{
			Host:       attrs.IP,
			User:       attrs.User,
			SSHOptions: shell.DefaultSSHOptions(),
		},
		User:           attrs.User,
		Password:       attrs.Password,
		UserPrompt:     loginPrompt,
		PasswordPrompt: passwordPrompt,
		InitialPrompt:  initialPrompt,
		Prompt:         vtyshPrompt,
		InitialCommand: "vtysh",
		Dial:           opts.Dial,
	})

	s := &switchNode{name: name, attrs: attrs, vtysh: vtysh, opts: opts, sleep: opts.sleep()}

	if attrs.Image != nil {
		if opts.Registry == nil {
			return nil, fmt.Errorf("switch %q: image attributes declared but no burn registry provided", name)
		}
		if err := s.burn(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *switchNode) Name() string { return s.name }
func (s *switchNode) Kind() Kind   { return KindSwitch }

func (s *switchNode) Start() error {
	if err := s.vtysh.Connect(); err != nil {
		return err
	}
	return s.ClearConfig()
}

func (s *switchNode) Stop() error {
	return s.vtysh.Disconnect()
}

func (s *switchNode) BringPortUp(label string) (string, error) {
	cfg, real, err := ifaceConfig(s.attrs, label)
	if err != nil {
		return "", fmt.Errorf("switch %q: %w", s.name, err)
	}
	util.WithDevice(s.name).Infof("bringing interface %s (%s) up", label, real)

	out, err := s.vtysh.Run("show interface " + real)
	if err != nil {
		return "", err
	}
	if strings.Contains(out, "Interface "+real+" is up") {
		return real, nil
	}

	cmds := []string{"config", "interface " + real}
	if cfg.Speed != "" {
		cmds = append(cmds, "speed "+cfg.Speed)
	}
	cmds = append(cmds, "no shutdown", "exit", "exit")
	for _, cmd := range cmds {
		if _, err := s.vtysh.Run(cmd); err != nil {
			return "", err
		}
	}
	return real, nil
}

func (s *switchNode) WaitPortUp(label string) error {
	cfg, real, err := ifaceConfig(s.attrs, label)
	if err != nil {
		return fmt.Errorf("switch %q: %w", s.name, err)
	}
	bound := bringUpTimeout(cfg)
	for i := 0; i < bound; i++ {
		out, err := s.vtysh.Run("show interface " + real)
		if err != nil {
			return err
		}
		if strings.Contains(out, "Admin state is up") {
			return nil
		}
		s.sleep(time.Second)
	}
	return fmt.Errorf("switch %q: interface %s (%s) did not come up within %ds",
		s.name, label, real, bound)
}

func (s *switchNode) ClearConfig() error {
	if s.attrs.ClearConfig != nil && !*s.attrs.ClearConfig {
		return nil
	}
	util.WithDevice(s.name).Info("clearing configuration")
	_, err := s.vtysh.Run("copy startup-config running-config")
	return err
}

// Rollback reboots the switch out-of-band, the bluntest recovery available.
func (s *switchNode) Rollback() error {
	if len(s.attrs.RebootCommand) == 0 {
		return nil
	}
	util.WithDevice(s.name).Info("rolling back via hardware reboot")
	execReboot := s.opts.ExecReboot
	if execReboot == nil {
		execReboot = func(argv []string) error {
			return exec.Command(argv[0], argv[1:]...).Run()
		}
	}
	if err := execReboot(s.attrs.RebootCommand); err != nil {
		return fmt.Errorf("switch %q: hardware reboot: %w", s.name, err)
	}
	s.sleep(s.bootupTimeout())
	return nil
}

// burn builds and runs the firmware provisioning job on the serial console.
func (s *switchNode) burn() error {
	if s.attrs.Serial == nil {
		return fmt.Errorf("switch %q: image attributes require a serial block", s.name)
	}

	serialUser := s.attrs.Serial.User
	if serialUser == "" {
		serialUser = s.attrs.User
	}
	serialPassword := s.attrs.Serial.Password
	if serialPassword == "" {
		serialPassword = s.attrs.Password
	}
	prompts := provision.DefaultPrompts(serialUser)

	serial := shell.NewSession(shell.Config{
		Device:    s.name,
		Transport: shell.Serial,
		Connect: shell.ConnectOptions{
			SerialArgv: strings.Fields(s.attrs.Serial.Command),
		},
		User:            serialUser,
		Password:        serialPassword,
		UserPrompt:      prompts.Login,
		PasswordPrompt:  prompts.Password,
		InitialPrompt:   prompts.RootShell,
		Prompt:          prompts.RootShell,
		PreConnectDelay: time.Duration(s.attrs.Serial.PreConnectDelay) * time.Second,
		ClosingCommands: s.attrs.Serial.ClosingCommands,
		PreSetup:        s.serialPreSetup(prompts),
		Dial:            s.opts.Dial,
	})

	job := &provision.Job{
		Device:   s.name,
		Identity: s.attrs.IP,
		ImagePath: s.attrs.Image.Path,
		Server: provision.ImageServer{
			IP:       s.attrs.Image.Server.IP,
			User:     s.attrs.Image.Server.User,
			Password: s.attrs.Image.Server.Password,
		},
		Serial:            serial,
		Vtysh:             s.vtysh,
		Prompts:           prompts,
		RebootCommand:     s.attrs.RebootCommand,
		BootupTimeout:     s.bootupTimeout(),
		BootloaderTimeout: time.Duration(s.attrs.BootloaderTimeout) * time.Second,
		PostBootSettle:    time.Duration(s.attrs.PostBootSettle) * time.Second,
		Sleep:             s.opts.Sleep,
		ExecReboot:        s.opts.ExecReboot,
	}
	return job.Run(s.opts.Registry)
}

// serialPreSetup steers whatever state the console was left in back toward
// the login prompt before the handshake runs.
func (s *switchNode) serialPreSetup(p provision.Prompts) func(shell.Channel) error {
	wait := s.bootupTimeout()
	if wait == 0 {
		wait = shell.DefaultTimeout
	}
	return func(ch shell.Channel) error {
		if err := ch.Send("\n\r", false); err != nil {
			return err
		}
		m, err := ch.Expect([]*regexp.Regexp{
			p.Login,
			p.OnieShell,
			p.RootShell,
			p.Vtysh,
		}, wait)
		if err != nil {
			return fmt.Errorf("classifying console state: %w", err)
		}
		switch m.Index {
		case 0:
			// At the login prompt, where the handshake wants us. Reprint it.
			return ch.Send("\n\r", false)
		case 1:
			// Left in the rescue OS: reboot back toward production.
			if err := ch.Send("reboot", true); err != nil {
				return err
			}
			s.sleep(wait)
		case 2:
			// Logged-in root shell: log out.
			return ch.Send("\x04", false)
		case 3:
			// Inside vtysh: leave it, then log out.
			if err := ch.Send("\x04", false); err != nil {
				return err
			}
			return ch.Send("\x04", false)
		}
		return nil
	}
}

func (s *switchNode) bootupTimeout() time.Duration {
	return time.Duration(s.attrs.BootupTimeout) * time.Second
}
