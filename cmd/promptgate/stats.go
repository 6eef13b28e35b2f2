package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/ratelimit"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request usage against the hourly quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}

			limiter, err := ratelimit.New(cfg.DBPath, cfg.RateLimit.MaxPerHour)
			if err != nil {
				return err
			}
			defer func() { _ = limiter.Close() }()

			ctx := context.Background()

			// Recent request detail view
			if recent > 0 {
				records, err := limiter.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No requests in the current window.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTIME\tFINGERPRINT\tRESPONSE BYTES")
				for _, r := range records {
					fp := r.PromptFingerprint
					if len(fp) > 12 {
						fp = fp[:12]
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\n",
						r.ID, r.CreatedAt.Format("2006-01-02T15:04:05"), fp, r.ResponseLength)
				}
				return w.Flush()
			}

			usage, err := limiter.Stats(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(usage, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Requests in last hour: %d/%d\n", usage.RequestsLastHour, usage.MaxPerHour)
			fmt.Printf("Remaining this hour:   %d\n", usage.RemainingThisHour)
			fmt.Printf("Requests today:        %d\n", usage.RequestsToday)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "promptgate.yaml", "path to config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N newest in-window requests")
	return cmd
}
