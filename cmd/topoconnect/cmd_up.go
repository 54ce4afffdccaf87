package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/topology-connect/topoconnect/pkg/device"
	"github.com/topology-connect/topoconnect/pkg/provision"
	"github.com/topology-connect/topoconnect/pkg/topology"
)

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up [device...]",
		Short: "Connect devices and bring their interfaces up",
		Long: `Construct every declared device (burning switch images where an image
block is present), connect, clear leftover configuration, and bring each
declared interface up.

With device arguments, only those devices are brought up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			top, err := topology.Load(topologyPath)
			if err != nil {
				return err
			}

			names := top.Names()
			if len(args) > 0 {
				names = args
			}

			registry := provision.NewRegistry()
			for _, name := range names {
				attrs, ok := top.Devices[name]
				if !ok {
					return fmt.Errorf("device %q not declared in %s", name, topologyPath)
				}

				node, err := device.New(name, attrs, device.Options{Registry: registry})
				if err != nil {
					return err
				}
				if err := node.Start(); err != nil {
					return err
				}
				for _, label := range topology.InterfaceLabels(attrs) {
					real, err := node.BringPortUp(label)
					if err != nil {
						return err
					}
					if err := node.WaitPortUp(label); err != nil {
						return err
					}
					fmt.Printf("%s: interface %s (%s) up\n", name, label, real)
				}
				fmt.Printf("%s: ready\n", name)
			}
			return nil
		},
	}
	return cmd
}
