package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the viewer access token",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show or generate the access token",
	Long:  "Show the current access token, or generate one if it doesn't exist.",
	RunE:  runTokenShow,
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the access token with a new one",
	RunE:  runTokenRotate,
}

func init() {
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenRotateCmd)
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Token == "" {
		if err := setNewToken(path, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Generated new token:")
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfg.Token)
	return nil
}

func runTokenRotate(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setNewToken(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.Token)
	return nil
}

func setNewToken(path string, cfg *config.ServerConfig) error {
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	cfg.Token = token

	if err := config.SaveServerTo(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
