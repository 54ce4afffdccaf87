package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/topology-connect/topoconnect/pkg/device"
	"github.com/topology-connect/topoconnect/pkg/provision"
	"github.com/topology-connect/topoconnect/pkg/shell"
	"github.com/topology-connect/topoconnect/pkg/topology"
)

func newBurnCmd() *cobra.Command {
	var checkServer bool

	cmd := &cobra.Command{
		Use:   "burn <device>",
		Short: "Burn the declared image to a switch",
		Long: `Run the firmware burn for one switch: serial console login, bootloader,
rescue OS, image download, install, and reboot back to production.

The device's topology entry must declare image and serial blocks.`,
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
			if attrs.Image == nil {
				return fmt.Errorf("device %q declares no image block", name)
			}

			if checkServer {
				srv := attrs.Image.Server
				if srv.User != "" {
					if err := shell.WaitForSSH(srv.IP, 22, srv.User, srv.Password, shell.DefaultTimeout); err != nil {
						return fmt.Errorf("image server %s unreachable: %w", srv.IP, err)
					}
				}
			}

			// Switch construction runs the burn when image attributes are
			// present; a fresh registry means it always executes here.
			if _, err := device.New(name, attrs, device.Options{Registry: provision.NewRegistry()}); err != nil {
				return err
			}
			fmt.Printf("%s: image burned\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkServer, "check-server", true, "verify the image server answers SSH before burning")
	return cmd
}
