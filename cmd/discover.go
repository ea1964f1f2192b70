package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/scheduler"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover sellers behind top-tier products",
	Long: `Selects unprocessed top-tier products and dispatches seller-lookup
jobs in bounded-concurrency chunks. After the batch settles, seller revenue
aggregates and whale flags are resynced.

Examples:
  # Process up to the configured batch limit
  discover

  # Only high-revenue products, 50 at a time
  discover --bucket high --limit 50`,
	RunE: runDiscover,
}

func init() {
	f := discoverCmd.Flags()
	f.Int("limit", 0, "maximum products to process (0=config default)")
	f.String("bucket", "", "revenue bucket filter: high, medium or low")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bucketFlag, _ := cmd.Flags().GetString("bucket")
	bucket := model.RevenueBucket(bucketFlag)
	if bucketFlag != "" && !model.ValidBucket(bucket) {
		return fmt.Errorf("unknown revenue bucket %q", bucketFlag)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Discovery.BatchLimit
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := scheduler.New(st, initOrchestrator(st), scheduler.Config{
		Concurrency: cfg.Discovery.Concurrency,
		ChunkDelay:  time.Duration(cfg.Discovery.ChunkDelaySecs) * time.Second,
		Bucket:      bucket,
	})

	summary, err := sched.Run(ctx, limit, cfg.Metrics)
	if err != nil {
		return err
	}
	fmt.Printf("products=%d failed=%d sellers=%d new=%d duplicates=%d cost=$%.4f\n",
		summary.ProductsProcessed, summary.JobsFailed, summary.SellersFound,
		summary.NewSellers, summary.Duplicates, summary.CostUSD)
	return nil
}
