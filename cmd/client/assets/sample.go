package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Pick random assets the way the viewer does",
	RunE:  runSample,
}

var (
	sampleN        int
	sampleSeed     uint64
	sampleCategory string
)

func init() {
	sampleCmd.Flags().IntVarP(&sampleN, "count", "n", 0, "Number of assets (default from server)")
	sampleCmd.Flags().Uint64Var(&sampleSeed, "seed", 0, "Seed for a repeatable selection")
	sampleCmd.Flags().StringVar(&sampleCategory, "category", "", "Only sample this category")
}

func runSample(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var seed *uint64
	if cmd.Flags().Changed("seed") {
		seed = &sampleSeed
	}

	res, err := c.Sample(ctx, sampleN, seed, sampleCategory)
	if err != nil {
		return fmt.Errorf("failed to sample assets: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, a := range res.Assets {
		if a.Description != "" {
			fmt.Fprintf(out, "%s  %s\n", a.Path, a.Description)
		} else {
			fmt.Fprintln(out, a.Path)
		}
	}
	fmt.Fprintf(out, "\n%d of %d asset(s), seed %d\n", len(res.Assets), res.Total, res.Seed)
	return nil
}
