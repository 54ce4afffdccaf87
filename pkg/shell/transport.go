package shell

import (
	"fmt"
	"strconv"
)

// TransportKind selects how the connect command reaches the device.
type TransportKind int

const (
	SSH TransportKind = iota
	Telnet
	Serial
)

func (t TransportKind) String() string {
	switch t {
	case SSH:
		return "ssh"
	case Telnet:
		return "telnet"
	case Serial:
		return "serial"
	}
	return "unknown"
}

// ConnectOptions carries the transport parameters for building a connect
// command. For Serial the declared console command is used verbatim and the
// other fields are ignored.
type ConnectOptions struct {
	Host         string
	Port         int
	User         string
	IdentityFile string   // key-based SSH when set, interactive otherwise
	SSHOptions   []string // extra -o options, e.g. "StrictHostKeyChecking=no"
	SerialArgv   []string
}

// ConnectArgv maps a transport kind and options to the external connect
// invocation. Pure function, no validation beyond the obvious: malformed
// input is a configuration error caught before this point.
func ConnectArgv(kind TransportKind, opts ConnectOptions) []string {
	switch kind {
	case SSH:
		target := opts.Host
		if opts.User != "" {
			target = opts.User + "@" + opts.Host
		}
		port := opts.Port
		if port == 0 {
			port = 22
		}
		argv := []string{"ssh", target, "-p", strconv.Itoa(port)}
		if opts.IdentityFile != "" {
			argv = append(argv, "-i", opts.IdentityFile)
		}
		for _, o := range opts.SSHOptions {
			argv = append(argv, "-o", o)
		}
		return argv
	case Telnet:
		port := opts.Port
		if port == 0 {
			port = 23
		}
		return []string{"telnet", opts.Host, strconv.Itoa(port)}
	case Serial:
		return opts.SerialArgv
	}
	return nil
}

// DefaultSSHOptions are the options used for password-interactive SSH to lab
// devices, whose host keys churn on every re-image.
func DefaultSSHOptions() []string {
	return []string{"BatchMode=no", "StrictHostKeyChecking=no"}
}

// KeyedSSHOptions are the options used for key-based SSH.
func KeyedSSHOptions() []string {
	return []string{"BatchMode=yes", "StrictHostKeyChecking=no"}
}

// Addr formats host:port for logs.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
