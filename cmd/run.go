package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/job"
)

var (
	runBusinessType string
	runLocation     string
	runKeywords     []string
	runMaxResults   int
	runBudget       float64
	runMinScore     int
	runTier         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one discovery job in the foreground and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		req := job.Request{
			BusinessType: runBusinessType,
			Location:     runLocation,
			Keywords:     runKeywords,
			MaxResults:   runMaxResults,
			BudgetLimit:  runBudget,
			TierKey:      runTier,
		}
		if cmd.Flags().Changed("min-confidence") {
			req.MinConfidenceScore = &runMinScore
		}

		dispatcher := &job.SyncDispatcher{Runner: env.Orchestrator}
		accepted, err := job.NewService(env.Store, dispatcher).Submit(ctx, req)
		if err != nil {
			return eris.Wrap(err, "submit discovery")
		}

		final := dispatcher.Last
		if final == nil {
			return eris.Errorf("job %s produced no result", accepted.JobID)
		}
		zap.L().Info("discovery complete",
			zap.String("job_id", final.ID),
			zap.String("status", string(final.Status)),
			zap.Int("leads", len(final.Results)),
			zap.Float64("total_cost", final.Metrics.TotalCost),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	},
}

func init() {
	runCmd.Flags().StringVar(&runBusinessType, "business-type", "", "kind of business to look for (required)")
	runCmd.Flags().StringVar(&runLocation, "location", "", "city, state or region (required)")
	runCmd.Flags().StringSliceVar(&runKeywords, "keywords", nil, "extra search keywords")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 0, "number of leads to return")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "job budget in USD (default from tier)")
	runCmd.Flags().IntVar(&runMinScore, "min-confidence", 0, "minimum lead score")
	runCmd.Flags().StringVar(&runTier, "tier", "", "pricing tier key")
	_ = runCmd.MarkFlagRequired("business-type")
	_ = runCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(runCmd)
}
