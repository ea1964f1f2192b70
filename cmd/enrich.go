package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/enrich"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Escalate contact-poor sellers through premium providers",
	Long: `Runs the tiered contact enrichment chain over high-value sellers
with few contacts. Providers are tried in ascending cost order under their
daily quotas and the per-seller cost cap, stopping at the first hit.`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().Int("limit", 0, "maximum sellers to enrich (0=config default)")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Enrich.BatchLimit
	}

	registry, err := enrich.LoadRegistry(cfg.Enrich.RegistryPath)
	if err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	enricher := enrich.New(st, registry, enrich.Config{
		MinRevenue:       cfg.Enrich.MinRevenue,
		NeedsContacts:    cfg.Enrich.NeedsContacts,
		MaxCostPerSeller: cfg.Enrich.MaxCostPerSeller,
		SellerDelay:      time.Duration(cfg.Enrich.SellerDelaySecs) * time.Second,
	})

	summary, err := enricher.Run(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Printf("sellers=%d enriched=%d failed=%d contacts=%d cost=$%.4f\n",
		summary.SellersProcessed, summary.Enriched, summary.Failed,
		summary.ContactsFound, summary.CostUSD)
	for provider, used := range summary.ProviderUsage {
		fmt.Printf("  %s: %d lookups\n", provider, used)
	}
	return nil
}
