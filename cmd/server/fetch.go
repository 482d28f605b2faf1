package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/johann/assetview/internal/logging"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <remote-path>",
	Short: "Download one file from the remote host",
	Long:  "Open an SFTP session the same way the server does and copy one remote file. Useful for checking credentials and paths.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var fetchOut string

func init() {
	fetchCmd.Flags().StringVarP(&fetchOut, "output", "o", "", "Output file (default: base name of the remote path, - for stdout)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	remotePath := args[0]
	if !path.IsAbs(remotePath) {
		remotePath = path.Join(cfg.RemoteRoot, remotePath)
	}

	start := time.Now()
	f, err := fetcher.Open(cmd.Context(), remotePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer
	switch out := fetchOut; out {
	case "-":
		w = cmd.OutOrStdout()
	default:
		if out == "" {
			out = path.Base(remotePath)
		}
		dst, err := os.Create(out)
		if err != nil {
			return err
		}
		defer dst.Close()
		w = dst
		fetchOut = out
	}

	n, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}

	log.Debug("fetched", zap.String("remote_path", remotePath), zap.Int64("bytes", n))
	if fetchOut != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%s in %s)\n",
			remotePath, fetchOut, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond))
	}
	return nil
}
