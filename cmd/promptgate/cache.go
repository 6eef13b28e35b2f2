package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/pkg/models"
)

func newCacheCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache of a running gateway",
	}

	// The cache lives inside the server process, so cache operations go
	// through the HTTP surface of a running gateway.
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the response cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimRight(serverURL, "/") + "/cache/clear"
			resp, err := http.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("cache clear: server returned %d: %s", resp.StatusCode, body)
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show response cache hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimRight(serverURL, "/") + "/cache/stats"
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("cache stats: server returned %d: %s", resp.StatusCode, body)
			}

			var stats models.CacheStats
			if err := json.Unmarshal(body, &stats); err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			fmt.Printf("Entries: %d\n", stats.Entries)
			fmt.Printf("Hits:    %d\n", stats.Hits)
			fmt.Printf("Misses:  %d\n", stats.Misses)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "gateway base URL")
	cmd.AddCommand(clearCmd, statsCmd)
	return cmd
}
