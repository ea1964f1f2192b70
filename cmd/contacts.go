package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/contacts"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Parse seller storefronts into contact records",
	Long: `Dispatches storefront-parse jobs for sellers not yet parsed, whales
first, and maps the results into validated, deduplicated contact rows.`,
	RunE: runContacts,
}

func init() {
	contactsCmd.Flags().Int("limit", 0, "maximum sellers to parse (0=config default)")
	rootCmd.AddCommand(contactsCmd)
}

func runContacts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Contacts.BatchLimit
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	ext := contacts.New(st, initOrchestrator(st), contacts.Config{
		PrioritizeWhale: cfg.Contacts.PrioritizeWhale,
	})
	summary, err := ext.RunBatch(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Printf("sellers=%d failed=%d contacts=%d\n",
		summary.SellersProcessed, summary.ParsesFailed, summary.ContactsInserted)
	return nil
}
