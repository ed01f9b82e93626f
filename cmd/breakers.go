package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Show the effective circuit breaker and rate limit settings per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		var wf *waterfall.Config
		if path := cfg.Pipeline.WaterfallConfig; path != "" {
			loaded, err := waterfall.LoadConfig(path)
			if err != nil {
				return err
			}
			wf = loaded
		}
		return printBreakers(os.Stdout, wf)
	},
}

func printBreakers(out io.Writer, wf *waterfall.Config) error {
	reg := resilience.NewRegistry(resilience.DefaultBreakerConfig(), breakerOptions(cfg.Providers, wf)...)
	delays := sourceDelays(cfg.Providers, wf)

	var sources []string
	for _, srcs := range providerSources {
		sources = append(sources, srcs...)
	}
	sort.Strings(sources)
	for _, src := range sources {
		reg.Get(src)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATE\tTHRESHOLD\tCOOLDOWN\tMIN DELAY") //nolint:errcheck
	for _, b := range reg.Snapshot() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", b.Provider, b.State, b.FailureThreshold, b.Cooldown, delays[b.Provider]) //nolint:errcheck
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(breakersCmd)
}
