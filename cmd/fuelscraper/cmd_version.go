package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}

			upstream := cfg.BaseURL
			if upstream == "" {
				upstream = minetur.DefaultBaseURL
			}

			fmt.Fprintf(out, "Fuel Price Scraper %s (%s, built %s)\n", Version, Commit, BuildDate)
			fmt.Fprintf(out, "  Go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  Upstream: %s\n", upstream)
			fmt.Fprintf(out, "  Store:    %s\n", cfg.DBDriver)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
