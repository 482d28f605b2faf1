package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/logging"
	"github.com/johann/assetview/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with asset manifests",
}

var manifestBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a manifest from files on the remote host",
	Long: `Expand a glob on the remote host and write a manifest listing every match.

Each asset is described by the path segment its first wildcard matched, so
/data/lego/*/model.glb describes /data/lego/castle/model.glb as "castle".`,
	RunE: runManifestBuild,
}

var (
	manifestPattern  string
	manifestCategory string
	manifestURLRoot  string
	manifestOut      string
)

func init() {
	manifestBuildCmd.Flags().StringVar(&manifestPattern, "pattern", "", "Remote glob, e.g. /data/lego/*/model.glb (default <remote_root>/*/*.glb)")
	manifestBuildCmd.Flags().StringVar(&manifestCategory, "category", "", "Category name (default from config)")
	manifestBuildCmd.Flags().StringVar(&manifestURLRoot, "url-root", "", "URL prefix replacing remote_root in paths (default route_prefix)")
	manifestBuildCmd.Flags().StringVarP(&manifestOut, "out", "o", "-", "Output file, - for stdout")

	manifestCmd.AddCommand(manifestBuildCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runManifestBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pattern := manifestPattern
	if pattern == "" {
		pattern = path.Join(cfg.RemoteRoot, "*", "*.glb")
	}
	category := manifestCategory
	if category == "" {
		category = cfg.ManifestCategory
	}
	urlRoot := manifestURLRoot
	if urlRoot == "" {
		urlRoot = cfg.RoutePrefix
	}

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	matches, err := fetcher.Glob(cmd.Context(), pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no remote files match %s", pattern)
	}

	m := manifest.Build(matches, pattern, category, cfg.RemoteRoot, urlRoot)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if manifestOut == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(manifestOut, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d assets (%s) to %s\n", len(matches), humanize.Bytes(uint64(len(data))), manifestOut)
	return nil
}

