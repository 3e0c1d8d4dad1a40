package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Chat relay that routes IRC traffic to attached clients",
	Long: `relay ingests events from upstream IRC connections, files them into
per-user conversations, flags highlights and pushes notifications to users
without an attached client.`,
	Version:      version.GetInfo(),
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runServe()
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for a configured user",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default is $CONFIG_PATH or config.toml)")

	tokenCmd.Flags().String("user", "", "user name from the config file")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

// resolveConfigPath prefers the flag, then CONFIG_PATH, then the default.
func resolveConfigPath() string {
	if p := strings.TrimSpace(configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	name, err := cmd.Flags().GetString("user")
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, ok := cfg.User(name); !ok {
		return fmt.Errorf("user %q is not configured", name)
	}
	ttl, err := cfg.Auth.ExpiresIn()
	if err != nil {
		return err
	}
	token, expiresAt, err := auth.GenerateToken(name, cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
