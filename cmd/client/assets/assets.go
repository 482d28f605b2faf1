package assets

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/client"
	"github.com/johann/assetview/internal/config"
)

var Cmd = &cobra.Command{
	Use:   "assets",
	Short: "Asset operations",
	Long:  "List, sample, browse and download assets.",
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(sampleCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(lsCmd)
}

func newClient() (*client.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return client.New(cfg)
}
