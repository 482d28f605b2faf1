package main

import (
	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "assetview-server",
	Short:        "3D asset viewer server",
	Long:         "assetview-server streams GLB and OBJ assets from a remote host over SFTP and serves the web viewer.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to server.json (default in the config directory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig reads server.json with environment overrides applied.
func loadConfig() (*config.ServerConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.LoadServerFrom(path)
}

// loadConfigFile reads server.json alone, for commands that save it back.
func loadConfigFile() (*config.ServerConfig, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadServerFile(path)
	return cfg, path, err
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.ServerPath()
}
