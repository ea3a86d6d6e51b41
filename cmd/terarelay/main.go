package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/memohai/terarelay/internal/boot"
	"github.com/memohai/terarelay/internal/config"
	"github.com/memohai/terarelay/internal/link"
	"github.com/memohai/terarelay/internal/logger"
	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "terarelay",
		Short:         "Telegram bot that resolves Terabox links and relays the files back",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal in containers.
			_ = godotenv.Load()
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml or config.yaml (default $CONFIG_PATH)")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newResolveCommand(&configPath))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (polling or webhook) with the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Starting terarelay %s\n", version.GetInfo())
			app := newApp(*configPath)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newResolveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <link>",
		Short: "Resolve a share link and print the file metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			validator := link.NewValidator(rc.AllowedPrefixes)
			src, ok := validator.Accept(args[0])
			if !ok {
				return fmt.Errorf("not a supported link: %s (accepted prefixes: %s)",
					strings.TrimSpace(args[0]), strings.Join(validator.Prefixes(), ", "))
			}
			client, err := resolver.NewClient(logger.L, rc.Resolver, nil)
			if err != nil {
				return err
			}
			file, err := client.Resolve(ctx, src)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(file)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "terarelay %s\n", version.GetInfo())
		},
	}
}
