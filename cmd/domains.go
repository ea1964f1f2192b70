package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/domainenrich"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Enrich storefront domains with registrant data",
	Long: `Looks up WHOIS-style registrant data for external domains surfaced
by storefronts and derives contact rows for the sellers linked to them. Each
domain is attempted at most once; misses are recorded and not retried.`,
	RunE: runDomains,
}

func init() {
	domainsCmd.Flags().Int("limit", 0, "maximum domains to enrich (0=config default)")
	rootCmd.AddCommand(domainsCmd)
}

func runDomains(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Domains.BatchLimit
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	enricher := domainenrich.New(st, initWhois(cfg.Whois), domainenrich.Config{
		ChunkSize:  cfg.Domains.ChunkSize,
		ChunkDelay: time.Duration(cfg.Domains.ChunkDelaySecs) * time.Second,
		LookupCost: cfg.Pricing.WhoisLookup,
	})

	summary, err := enricher.RunBatch(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Printf("domains=%d hits=%d misses=%d failed=%d cost=$%.4f\n",
		summary.DomainsProcessed, summary.Hits, summary.Misses,
		summary.Failed, summary.CostUSD)
	return nil
}
