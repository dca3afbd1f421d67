package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/mcpserver"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdio, delegating tool calls to a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			apiKey, _ := cmd.Flags().GetString("api-key")
			if apiKey == "" {
				apiKey = os.Getenv("API_KEY")
			}

			// stdout carries the MCP stream; logs go to stderr only.
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			client := mcpserver.NewClient(mcpserver.ClientConfig{
				BaseURL: baseURL,
				APIKey:  apiKey,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Health(ctx); err != nil {
				return err
			}

			return mcpserver.New(client, logger).Run()
		},
	}
	cmd.Flags().String("url", "http://127.0.0.1:3001", "Base URL of the running daemon")
	cmd.Flags().String("api-key", "", "Bearer token for the daemon (defaults to $API_KEY)")
	return cmd
}
