package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed [keyword...]",
	Short: "Seed products from keyword searches",
	Long: `Dispatches one product-search job per keyword and seeds products
from the ranked result lists.

Example:
  seed "stand mixer" "espresso machine"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	orch := initOrchestrator(st)
	var failed int
	for _, keyword := range args {
		job, err := orch.CreateJob(ctx, model.JobProductSearch, keyword)
		if err != nil {
			return err
		}
		res, err := orch.RunJob(ctx, job.ID)
		if err != nil {
			failed++
			continue
		}
		fmt.Printf("%q: %d products seeded\n", keyword, res.ProductsSeeded)
	}
	if failed > 0 {
		return eris.Errorf("%d of %d searches failed", failed, len(args))
	}
	return nil
}
