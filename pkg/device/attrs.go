// Package device models the lab devices (hosts and switches) as a closed set
// of variants behind a common capability interface, built from declared
// attribute blocks.
package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/topology-connect/topoconnect/pkg/util"
)

// Attrs is the declared configuration for one device, decoded from the
// topology file. Validation happens against the raw attribute map before
// decoding, so constructors only ever see validated values.
type Attrs struct {
	Type     string `yaml:"type"`
	IP       string `yaml:"ip"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	ClearConfig   *bool    `yaml:"clear_config"`
	RebootCommand []string `yaml:"reboot_command"`

	// Timeouts in seconds, matching how they are declared.
	BootupTimeout     int `yaml:"bootup_timeout"`
	PostBootSettle    int `yaml:"post_boot_settle"`
	BootloaderTimeout int `yaml:"bootloader_timeout"`

	Image      *ImageAttrs               `yaml:"image"`
	Serial     *SerialAttrs              `yaml:"serial"`
	Interfaces map[string]InterfaceAttrs `yaml:"interfaces"`
}

// ImageAttrs declares a re-image: where the firmware lives and how to reach
// the server hosting it.
type ImageAttrs struct {
	Path   string      `yaml:"path"`
	Server ServerAttrs `yaml:"server"`
}

// ServerAttrs is the image server endpoint.
type ServerAttrs struct {
	IP       string `yaml:"ip"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// SerialAttrs declares the serial console: the external connect command plus
// console-specific credentials and teardown.
type SerialAttrs struct {
	Command         string   `yaml:"command"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	PreConnectDelay int      `yaml:"pre_connect_delay"`
	ClosingCommands []string `yaml:"closing_commands"`
}

// InterfaceAttrs declares one network interface.
type InterfaceAttrs struct {
	Name          string `yaml:"name"`
	Speed         string `yaml:"speed"`
	BringUpTimeout int   `yaml:"bring_up_timeout"`
	ClearConfig   *bool  `yaml:"clear_config"`
}

// Schema describes the recognized attributes for a device kind: a value
// regex for scalars, a nested Schema for blocks, nil to accept any value.
// A "+" key prefix marks the attribute mandatory; the key "*" matches any
// name (per-interface blocks).
type Schema map[string]interface{}

const ipOrHostname = `([0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}|` +
	`(\d{1,3}\.){3}\d{1,3}|` +
	`[a-zA-Z0-9][-a-zA-Z0-9]*(\.[a-zA-Z0-9][-a-zA-Z0-9]*)*`

var hostSchema = Schema{
	"+type":    "host",
	"+ip":      ".+",
	"+user":    ".*",
	"password": ".*",
	"interfaces": Schema{
		"*": Schema{
			"+name":           `\w+`,
			"speed":           `\d+`,
			"bring_up_timeout": `\d+`,
			"clear_config":    "true|false",
		},
	},
}

var switchSchema = Schema{
	"+type":             "switch",
	"+ip":               ipOrHostname,
	"+user":             `\w*`,
	"password":          `\w*`,
	"clear_config":      "true|false",
	"reboot_command":    nil,
	"bootup_timeout":    `\d+`,
	"post_boot_settle":  `\d+`,
	"bootloader_timeout": `\d+`,
	"image": Schema{
		"+path": ".+",
		"+server": Schema{
			"+ip":     ".+",
			"user":    `\w*`,
			"password": `\w*`,
		},
	},
	"serial": Schema{
		"+command":          ".+",
		"user":              `\w*`,
		"password":          `\w*`,
		"pre_connect_delay": `\d+`,
		"closing_commands":  nil,
	},
	"interfaces": Schema{
		"*": Schema{
			"+name":           `\w+`,
			"speed":           `\d+`,
			"bring_up_timeout": `\d+`,
		},
	},
}

// SchemaFor returns the attribute schema for a device kind.
func SchemaFor(kind Kind) (Schema, error) {
	switch kind {
	case KindHost:
		return hostSchema, nil
	case KindSwitch:
		return switchSchema, nil
	}
	return nil, fmt.Errorf("unknown device type %q", kind)
}

// Validate checks a raw attribute map against a schema. All violations are
// collected into a single ValidationError rather than stopping at the first,
// so a topology file can be fixed in one pass.
func Validate(device string, attrs map[string]interface{}, schema Schema) error {
	vb := &util.ValidationBuilder{}
	validateBlock(device, "", attrs, schema, vb)
	return vb.Build()
}

func validateBlock(device, parent string, attrs map[string]interface{}, schema Schema, vb *util.ValidationBuilder) {
	rules := make(map[string]interface{}, len(schema))
	var mandatory []string
	for key, rule := range schema {
		if strings.HasPrefix(key, "+") {
			key = key[1:]
			mandatory = append(mandatory, key)
		}
		rules[key] = rule
	}
	wildcard, hasWildcard := rules["*"]

	for key, val := range attrs {
		path := key
		if parent != "" {
			path = parent + "." + key
		}

		rule, known := rules[key]
		if hasWildcard {
			rule, known = wildcard, true
		}
		if !known {
			vb.AddErrorf("device %q: unknown attribute %q", device, path)
			continue
		}

		switch r := rule.(type) {
		case nil:
			// unvalidated value
		case Schema:
			sub, ok := val.(map[string]interface{})
			if !ok {
				vb.AddErrorf("device %q: attribute %q must be a block", device, path)
				continue
			}
			validateBlock(device, path, sub, r, vb)
		case string:
			if val == nil {
				continue
			}
			text := fmt.Sprint(val)
			re, err := regexp.Compile(`\A(?:` + r + `)\z`)
			if err != nil {
				vb.AddErrorf("device %q: attribute %q: bad schema pattern %q", device, path, r)
				continue
			}
			if !re.MatchString(text) {
				vb.AddErrorf("device %q: value %q of attribute %q is invalid", device, text, path)
			}
		default:
			vb.AddErrorf("device %q: attribute %q: unsupported schema rule", device, path)
		}
	}

	// Wildcard blocks have arbitrary member names, so mandatory checks apply
	// only to named attributes.
	if !hasWildcard {
		for _, key := range mandatory {
			if _, present := attrs[key]; !present {
				path := key
				if parent != "" {
					path = parent + "." + key
				}
				vb.AddErrorf("device %q: mandatory attribute %q not specified", device, path)
			}
		}
	}
}
