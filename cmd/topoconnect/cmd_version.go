package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/topology-connect/topoconnect/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("topoconnect", version.Info())
		},
	}
}
