package device

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/util"
)

var (
	loginPrompt    = regexp.MustCompile(`[lL]ogin: `)
	passwordPrompt = regexp.MustCompile(`[pP]assword: `)
	bashPrompt     = regexp.MustCompile(`\w+@.+[#$] `)
)

// host is a Linux test host reached over SSH.
type host struct {
	name  string
	attrs Attrs
	bash  *shell.Session
	sleep func(time.Duration)
}

func newHost(name string, attrs Attrs, opts Options) (*host, error) {
	bash := shell.NewSession(shell.Config{
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
		InitialPrompt:  bashPrompt,
		Prompt:         bashPrompt,
		Dial:           opts.Dial,
	})
	return &host{name: name, attrs: attrs, bash: bash, sleep: opts.sleep()}, nil
}

func (h *host) Name() string { return h.name }
func (h *host) Kind() Kind   { return KindHost }

func (h *host) Start() error {
	if err := h.bash.Connect(); err != nil {
		return err
	}
	return h.ClearConfig()
}

func (h *host) Stop() error {
	return h.bash.Disconnect()
}

func (h *host) BringPortUp(label string) (string, error) {
	_, real, err := ifaceConfig(h.attrs, label)
	if err != nil {
		return "", fmt.Errorf("host %q: %w", h.name, err)
	}
	util.WithDevice(h.name).Infof("bringing interface %s (%s) up", label, real)
	if _, err := h.bash.Run("ifconfig " + real + " up"); err != nil {
		return "", err
	}
	return real, nil
}

func (h *host) WaitPortUp(label string) error {
	cfg, real, err := ifaceConfig(h.attrs, label)
	if err != nil {
		return fmt.Errorf("host %q: %w", h.name, err)
	}
	bound := bringUpTimeout(cfg)
	for i := 0; i < bound; i++ {
		out, err := h.bash.Run("ip link show " + real)
		if err != nil {
			return err
		}
		if strings.Contains(out, " state UP ") {
			return nil
		}
		h.sleep(time.Second)
	}
	return fmt.Errorf("host %q: interface %s (%s) did not come up within %ds",
		h.name, label, real, bound)
}

// ClearConfig strips addresses, downs each declared interface, and removes
// any vlan sub-interfaces left over from a previous run.
func (h *host) ClearConfig() error {
	util.WithDevice(h.name).Info("clearing configuration")
	for label, cfg := range h.attrs.Interfaces {
		if cfg.ClearConfig != nil && !*cfg.ClearConfig {
			continue
		}
		_, real, err := ifaceConfig(h.attrs, label)
		if err != nil {
			return err
		}
		if _, err := h.bash.Run("ip addr flush dev " + real); err != nil {
			return err
		}
		if _, err := h.bash.Run("ip link set dev " + real + " down"); err != nil {
			return err
		}
		out, err := h.bash.Run("ip link show")
		if err != nil {
			return err
		}
		subif := regexp.MustCompile(regexp.QuoteMeta(real) + `\.\d+@` + regexp.QuoteMeta(real) + `: `)
		for _, m := range subif.FindAllString(out, -1) {
			name := m[:strings.IndexByte(m, '@')]
			if _, err := h.bash.Run("ip link del " + name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *host) Rollback() error {
	return nil
}
