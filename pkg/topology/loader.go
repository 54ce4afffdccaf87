// Package topology loads the declared lab topology: a YAML file mapping
// device names to attribute blocks, validated against each device kind's
// schema before anything touches a channel.
package topology

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/topology-connect/topoconnect/pkg/device"
)

// File is the raw shape of a topology file.
type File struct {
	Devices map[string]yaml.Node `yaml:"devices"`
}

// Topology is the validated result: per-device attributes with defaults
// applied.
type Topology struct {
	Devices map[string]device.Attrs
}

// Load reads and validates a topology file. Validation errors carry every
// violation found, not just the first.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates topology YAML already in memory.
func Parse(data []byte) (*Topology, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing topology: %w", err)
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("topology declares no devices")
	}

	top := &Topology{Devices: make(map[string]device.Attrs, len(f.Devices))}
	for name, node := range f.Devices {
		var raw map[string]interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}

		kind, _ := raw["type"].(string)
		schema, err := device.SchemaFor(device.Kind(kind))
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		if err := device.Validate(name, raw, schema); err != nil {
			return nil, err
		}

		var attrs device.Attrs
		if err := node.Decode(&attrs); err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		applyDefaults(&attrs)
		top.Devices[name] = attrs
	}
	return top, nil
}

// Names returns the device names in stable order.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.Devices))
	for name := range t.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InterfaceLabels returns a device's declared interface labels in stable
// order.
func InterfaceLabels(attrs device.Attrs) []string {
	labels := make([]string, 0, len(attrs.Interfaces))
	for label := range attrs.Interfaces {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func applyDefaults(attrs *device.Attrs) {
	if attrs.ClearConfig == nil {
		t := true
		attrs.ClearConfig = &t
	}
}
