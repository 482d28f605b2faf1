package assets

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "Browse the remote asset directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	listing, err := c.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", listing.Path)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range listing.Entries {
		if e.Dir {
			fmt.Fprintf(tw, "%s/\t-\t%s\n", e.Name, humanize.Time(e.ModTime))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Time(e.ModTime))
	}
	return tw.Flush()
}
