package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johann/assetview/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize server configuration",
	Long:  "Interactive wizard to configure the remote host, the served paths and the optional cache.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "assetview-server configuration wizard")
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintln(out)

	path, err := configPath()
	if err != nil {
		return fmt.Errorf("failed to locate config: %w", err)
	}
	cfg, err := config.LoadServerFile(path)
	if err != nil {
		fmt.Fprintf(out, "Ignoring unreadable config: %v\n", err)
		cfg = config.DefaultServerConfig()
	}

	section(out, "Remote Host")
	cfg.SSHHost = prompt(reader, out, "SSH Host", cfg.SSHHost, "")
	cfg.SSHPort = promptInt(reader, out, "SSH Port", cfg.SSHPort, 22)
	cfg.SSHUser = prompt(reader, out, "SSH User", cfg.SSHUser, "")
	cfg.SSHKeyPath = prompt(reader, out, "SSH Private Key (blank for password auth)", cfg.SSHKeyPath, "")
	if cfg.SSHKeyPath == "" {
		cfg.SSHPassword = promptSecret(reader, out, "SSH Password", cfg.SSHPassword)
	} else {
		cfg.SSHKeyPassphrase = promptSecret(reader, out, "Key Passphrase (blank if none)", cfg.SSHKeyPassphrase)
	}
	cfg.SSHKnownHosts = prompt(reader, out, "known_hosts File (blank to skip host key checks)", cfg.SSHKnownHosts, "")
	fmt.Fprintln(out)

	section(out, "Assets")
	cfg.RoutePrefix = prompt(reader, out, "URL Prefix", cfg.RoutePrefix, "/data/lego")
	cfg.RemoteRoot = prompt(reader, out, "Remote Directory", cfg.RemoteRoot, cfg.RoutePrefix)
	cfg.ManifestPath = prompt(reader, out, "Manifest Path", cfg.ManifestPath, "/data/lego/data/dataset.json")
	cfg.SampleSize = promptInt(reader, out, "Assets Per Page", cfg.SampleSize, 20)
	fmt.Fprintln(out)

	section(out, "Server")
	cfg.ListenAddr = prompt(reader, out, "HTTP Listen Address", cfg.ListenAddr, ":8080")
	cfg.LogLevel = prompt(reader, out, "Log Level", cfg.LogLevel, "info")
	fmt.Fprintln(out)

	section(out, "Cache")
	cfg.CacheEnabled = promptYesNo(reader, out, "Cache fetched assets locally?", cfg.CacheEnabled)
	if cfg.CacheEnabled {
		cfg.DBPath = prompt(reader, out, "Database Path", cfg.DBPath, "")
		cfg.CacheMaxObjectMB = promptInt(reader, out, "Largest Cached File (MB)", cfg.CacheMaxObjectMB, 64)
		cfg.CacheRetentionDays = promptInt(reader, out, "Retention Days", cfg.CacheRetentionDays, 30)

		if promptYesNo(reader, out, "Store large files in S3?", cfg.S3Bucket != "") {
			cfg.S3Endpoint = prompt(reader, out, "S3 Endpoint URL", cfg.S3Endpoint, "http://localhost:9000")
			cfg.S3Bucket = prompt(reader, out, "S3 Bucket Name", cfg.S3Bucket, "assetview-cache")
			cfg.S3AccessKey = prompt(reader, out, "S3 Access Key", cfg.S3AccessKey, "")
			cfg.S3SecretKey = promptSecret(reader, out, "S3 Secret Key", cfg.S3SecretKey)
			cfg.S3Region = prompt(reader, out, "S3 Region", cfg.S3Region, "us-east-1")
		} else {
			cfg.S3Bucket = ""
		}
	}
	fmt.Fprintln(out)

	section(out, "Authentication")
	switch {
	case cfg.Token == "":
		if promptYesNo(reader, out, "Require a token to view assets?", true) {
			token, err := generateToken()
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			cfg.Token = token
			fmt.Fprintf(out, "Generated new token: %s\n", token)
		}
	case promptYesNo(reader, out, "Regenerate authentication token?", false):
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		fmt.Fprintf(out, "New token: %s\n", token)
	default:
		fmt.Fprintf(out, "Keeping existing token: %s\n", cfg.Token)
	}
	fmt.Fprintln(out)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Warning: configuration is incomplete:\n%v\n\n", err)
	}

	if err := config.SaveServerTo(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out, "Configuration saved!")
	fmt.Fprintf(out, "Config file: %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Start the server with:")
	fmt.Fprintln(out, "  assetview-server serve")

	return nil
}

func section(out io.Writer, title string) {
	fmt.Fprintln(out, title)
	fmt.Fprintln(out, strings.Repeat("-", len(title)))
}

func prompt(reader *bufio.Reader, out io.Writer, label, current, defaultVal string) string {
	displayDefault := current
	if displayDefault == "" {
		displayDefault = defaultVal
	}

	if displayDefault != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, displayDefault)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		if current != "" {
			return current
		}
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, label string, current, defaultVal int) int {
	cur := ""
	if current > 0 {
		cur = strconv.Itoa(current)
	}
	s := prompt(reader, out, label, cur, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		fmt.Fprintf(out, "  not a positive number, using %d\n", defaultVal)
		return defaultVal
	}
	return n
}

func promptSecret(reader *bufio.Reader, out io.Writer, label, current string) string {
	if current != "" {
		fmt.Fprintf(out, "%s [****hidden****]: ", label)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return current
	}
	return input
}

func promptYesNo(reader *bufio.Reader, out io.Writer, label string, defaultVal bool) bool {
	defaultStr := "y/N"
	if defaultVal {
		defaultStr = "Y/n"
	}

	fmt.Fprintf(out, "%s [%s]: ", label, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}
	return input == "y" || input == "yes"
}

