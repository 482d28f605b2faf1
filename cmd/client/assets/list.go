package assets

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the assets in the manifest",
	RunE:  runList,
}

var (
	listCategory string
	listSummary  bool
)

func init() {
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only list this category")
	listCmd.Flags().BoolVar(&listSummary, "summary", false, "Print per-category counts only")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	listing, err := c.Manifest(ctx, listCategory)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}

	out := cmd.OutOrStdout()
	if listing.Total == 0 {
		fmt.Fprintln(out, "No assets found")
		return nil
	}

	if listSummary {
		names := make([]string, 0, len(listing.Categories))
		for name := range listing.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%-24s %d\n", name, listing.Categories[name])
		}
		fmt.Fprintf(out, "\n%d asset(s)\n", listing.Total)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tPATH\tDESCRIPTION")
	for _, a := range listing.Assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Category, a.Path, a.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d asset(s)\n", listing.Total)
	return nil
}
