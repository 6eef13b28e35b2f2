package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cachepkg "github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/executor"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/ratelimit"
	"github.com/promptgate/promptgate/pkg/runner"
)

func newPromptCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
		noCache    bool
		extraFlags []string
		batchFile  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "prompt [text]",
		Short: "Send a prompt through the gateway (sync)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			limiter, err := ratelimit.New(cfg.DBPath, cfg.RateLimit.MaxPerHour)
			if err != nil {
				return fmt.Errorf("init limiter: %w", err)
			}
			defer func() { _ = limiter.Close() }()

			var respCache *cachepkg.Cache
			if cfg.Cache.Enabled {
				respCache = cachepkg.New()
			}

			run := runner.New(limiter, respCache, executor.New(cfg.Tool), cfg.Retry.MaxAttempts)
			ctx := context.Background()

			if batchFile != "" {
				prompts, err := readPrompts(batchFile)
				if err != nil {
					return err
				}
				results := run.RunBatch(ctx, prompts)
				return writeBatchResults(results, outputFile)
			}

			if len(args) == 0 {
				return fmt.Errorf("either a prompt or --batch is required")
			}

			result := run.Run(ctx, args[0], extraFlags, !noCache)
			return printResult(result, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "promptgate.yaml", "path to config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().StringArrayVar(&extraFlags, "flag", nil, "extra flag passed to the tool (repeatable)")
	cmd.Flags().StringVar(&batchFile, "batch", "", "file with prompts, one per line")
	cmd.Flags().StringVar(&outputFile, "output", "", "output file for batch results (JSON)")
	return cmd
}

// readPrompts loads one prompt per non-empty line.
func readPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return prompts, nil
}

func writeBatchResults(results []models.Result, outputFile string) error {
	if outputFile != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
		fmt.Printf("Results saved to %s\n", outputFile)
		return nil
	}

	for i, result := range results {
		fmt.Printf("\n--- Result %d ---\n", i+1)
		if result.Success {
			fmt.Println(result.Output)
		} else {
			fmt.Printf("Error: %s\n", result.Error)
		}
	}
	return nil
}

func printResult(result models.Result, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if result.Success {
		fmt.Println(result.Output)
		return nil
	}

	fmt.Printf("Error: %s\n", result.Error)
	if result.Usage != nil {
		fmt.Printf("\nUsage: %d/%d requests this hour\n",
			result.Usage.RequestsLastHour, result.Usage.MaxPerHour)
	}
	return nil
}
