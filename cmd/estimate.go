package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/estimate"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Recompute revenue estimates and top-tier flags",
	Long: `Recomputes estimated units and revenue for every product with both
price and rank set, then reflags the top revenue tier per category.

Examples:
  # Full recompute plus top-tier pass
  estimate

  # Only refresh products past their refresh window
  estimate --stale

  # Reflag one category without recomputing
  estimate --category "Kitchen" --toptier-only`,
	RunE: runEstimate,
}

func init() {
	f := estimateCmd.Flags()
	f.Bool("stale", false, "only recompute products past their refresh window")
	f.Bool("toptier-only", false, "skip recompute, only reflag top tiers")
	f.String("category", "", "restrict the top-tier pass to one category")

	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	est := estimate.New(st,
		estimate.WithChunkSize(cfg.Estimate.ChunkSize),
		estimate.WithTopTierFraction(cfg.Estimate.TopTierFraction),
		estimate.WithRefreshWindow(time.Duration(cfg.Estimate.RefreshDays)*24*time.Hour))

	stale, _ := cmd.Flags().GetBool("stale")
	topTierOnly, _ := cmd.Flags().GetBool("toptier-only")
	category, _ := cmd.Flags().GetString("category")

	if !topTierOnly {
		var summary *estimate.RecomputeSummary
		if stale {
			summary, err = est.RefreshStale(ctx)
		} else {
			summary, err = est.RecomputeAll(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("processed=%d updated=%d skipped=%d failed=%d\n",
			summary.Processed, summary.Updated, summary.Skipped, summary.Failed)
	}

	if category != "" {
		flagged, err := est.ComputeTopTier(ctx, category)
		if err != nil {
			return err
		}
		fmt.Printf("category %q: %d top-tier products\n", category, flagged)
		return nil
	}

	flagged, err := est.ComputeAllTopTiers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d top-tier products across all categories\n", flagged)
	return nil
}
