package device

import (
	"fmt"
	"time"

	"github.com/topology-connect/topoconnect/pkg/provision"
	"github.com/topology-connect/topoconnect/pkg/shell"
)

// Kind tags the closed set of device variants.
type Kind string

const (
	KindHost   Kind = "host"
	KindSwitch Kind = "switch"
)

// Node is the capability surface every device variant implements.
// Ports are referred to by their declared label; BringPortUp returns the
// real interface name behind the label.
type Node interface {
	Name() string
	Kind() Kind

	// Start connects the device's sessions and clears leftover configuration.
	Start() error
	// Stop disconnects the device's sessions.
	Stop() error

	BringPortUp(label string) (string, error)
	WaitPortUp(label string) error
	ClearConfig() error
	Rollback() error
}

// Options carries the run-wide collaborators a device needs.
type Options struct {
	// Registry is the run-wide burn-once registry. Required when a switch
	// declares image attributes.
	Registry *provision.Registry

	// Dial overrides channel spawning; tests inject scripted channels.
	Dial func(argv []string) (shell.Channel, error)

	// Sleep overrides real-time delays in polling loops; tests stub it.
	Sleep func(time.Duration)

	// ExecReboot overrides the out-of-band hardware reboot invocation.
	ExecReboot func(argv []string) error
}

func (o *Options) sleep() func(time.Duration) {
	if o.Sleep != nil {
		return o.Sleep
	}
	return time.Sleep
}

// New constructs the device variant named by the attribute type tag.
// Switch construction runs the firmware burn when image attributes are
// declared, so a returned switch is already re-imaged (or the burn was
// skipped because another device object for the same unit owns it).
func New(name string, attrs Attrs, opts Options) (Node, error) {
	switch Kind(attrs.Type) {
	case KindHost:
		return newHost(name, attrs, opts)
	case KindSwitch:
		return newSwitch(name, attrs, opts)
	}
	return nil, fmt.Errorf("device %q: unknown type %q", name, attrs.Type)
}

// ifaceConfig resolves a declared interface label to its attribute block and
// real interface name.
func ifaceConfig(attrs Attrs, label string) (InterfaceAttrs, string, error) {
	cfg, ok := attrs.Interfaces[label]
	if !ok {
		return InterfaceAttrs{}, "", fmt.Errorf("unknown interface %q", label)
	}
	real := cfg.Name
	if real == "" {
		real = label
	}
	return cfg, real, nil
}

// bringUpTimeout returns the per-interface bring-up bound in seconds.
func bringUpTimeout(cfg InterfaceAttrs) int {
	if cfg.BringUpTimeout > 0 {
		return cfg.BringUpTimeout
	}
	return 30
}
