package assets

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <asset-path>",
	Short: "Download an asset",
	Long:  "Download an asset by its URL path, for example /data/lego/castle/model.glb.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var getOutput string

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output file (default: base name of the asset, - for stdout)")
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	urlPath := args[0]
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	if getOutput == "-" {
		_, err := c.Download(cmd.Context(), urlPath, cmd.OutOrStdout())
		return err
	}

	out := getOutput
	if out == "" {
		out = path.Base(urlPath)
	}

	tmp := out + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := c.Download(cmd.Context(), urlPath, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to download %s: %w", urlPath, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s in %s)\n", out, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond))
	return nil
}
