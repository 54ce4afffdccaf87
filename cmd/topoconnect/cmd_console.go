package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/topology-connect/topoconnect/pkg/topology"
)

func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console <device>",
		Short: "Attach to a device's serial console",
		Long: `Attach the terminal to a device's declared serial console command.

Useful for watching a switch boot when the provisioning workflow is not
involved. The terminal is put in raw mode so menu keystrokes pass through;
detach with the console server's escape sequence or Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			top, err := topology.Load(topologyPath)
			if err != nil {
				return err
			}
			attrs, ok := top.Devices[name]
			if !ok {
				return fmt.Errorf("device %q not declared in %s", name, topologyPath)
			}
			if attrs.Serial == nil {
				return fmt.Errorf("device %q declares no serial block", name)
			}

			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				old, err := term.MakeRaw(fd)
				if err != nil {
					return fmt.Errorf("raw mode: %w", err)
				}
				defer term.Restore(fd, old)
			}

			argv := strings.Fields(attrs.Serial.Command)
			c := exec.Command(argv[0], argv[1:]...)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}
	return cmd
}
