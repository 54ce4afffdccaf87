// Topoconnect — bring-up and provisioning of network-test lab devices.
//
// topoconnect connects to the hosts and switches declared in a topology
// file over SSH, Telnet, or serial console, authenticates, brings declared
// interfaces up, and re-images switches whose topology entry declares an
// image block.
//
// Usage:
//
//	topoconnect up -T <topology> [device...]   Connect devices and bring ports up
//	topoconnect burn -T <topology> <device>    Burn the declared image to a switch
//	topoconnect console -T <topology> <device> Attach to a serial console
//	topoconnect version                        Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topology-connect/topoconnect/pkg/util"
)

var (
	topologyPath string
	verbose      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "topoconnect",
	Short:             "Bring-up and provisioning of network-test lab devices",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Topoconnect connects to lab devices declared in a topology file,
authenticates over SSH, Telnet or serial console, brings declared
interfaces up, and drives firmware burns for switches that need re-imaging.

  topoconnect up -T topology.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			util.SetLogLevel("debug")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "topology", "T", "topology.yaml", "topology file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newUpCmd(),
		newBurnCmd(),
		newConsoleCmd(),
		newVersionCmd(),
	)
}
