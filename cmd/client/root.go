package main

import (
	"github.com/spf13/cobra"

	"github.com/johann/assetview/cmd/client/assets"
)

var rootCmd = &cobra.Command{
	Use:          "assetview",
	Short:        "3D asset viewer client",
	Long:         "assetview lists, samples and downloads assets from an assetview server.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(assets.Cmd)
}
