package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/services"
	"github.com/learnwise/cachecore/warming"
	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm [strategy]...",
	Short: "Run warming strategies once (all built-in strategies when none is named)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sourcesURL == "" {
			return errors.New("--sources-url is required")
		}
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		catalog := warming.DefaultCatalog(newHTTPSources(sourcesURL, sourcesToken),
			services.NewCourseCache(s.store), services.NewTradingCache(s.store))
		scheduler := warming.NewScheduler(warming.WithLogger(s.logger), warming.WithStrategies(catalog...))
		if len(args) == 0 {
			for _, st := range scheduler.Strategies() {
				args = append(args, st.Name)
			}
		}

		var failed int
		for _, name := range args {
			result, err := scheduler.TriggerStrategy(cmd.Context(), name)
			if err != nil {
				return err
			}
			if result.Success {
				fmt.Printf("%-20s warmed %d items in %s\n", name, result.ItemsWarmed, result.Duration)
			} else {
				failed++
				fmt.Printf("%-20s failed: %s\n", name, result.Error)
			}
		}
		if failed > 0 {
			return errors.Newf("%d of %d strategies failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	warmCmd.Flags().StringVar(&sourcesURL, "sources-url", "", "platform API base URL the strategies read from")
	warmCmd.Flags().StringVar(&sourcesToken, "sources-token", "", "bearer token for --sources-url")
	rootCmd.AddCommand(warmCmd)
}
