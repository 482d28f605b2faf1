package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/client"
	"github.com/johann/assetview/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Login to an asset server",
	Long:  "Save the server URL and, if the server requires one, its access token.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var (
	loginToken  string
	loginVerify bool
)

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token, if the server requires one")
	loginCmd.Flags().BoolVar(&loginVerify, "verify", true, "Check that the server answers before saving")
}

func runLogin(cmd *cobra.Command, args []string) error {
	serverURL := strings.TrimSuffix(args[0], "/")

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ServerURL = serverURL
	if loginToken != "" {
		cfg.Token = loginToken
	}

	if loginVerify {
		c, err := client.New(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		if err := c.Health(ctx); err != nil {
			return fmt.Errorf("server did not answer: %w", err)
		}
		// A listing proves the token, when the server requires one.
		if _, err := c.Manifest(ctx, ""); err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				return fmt.Errorf("server rejected the token: %w", err)
			}
		}
	}

	if err := config.SaveClient(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if cfg.Token != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s with access token\n", serverURL)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s (no token)\n", serverURL)
	}

	return nil
}
