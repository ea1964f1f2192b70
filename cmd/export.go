package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sellerscout/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ranked leads to an XLSX workbook",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.String("output", "leads.xlsx", "output file path")
	f.Int("limit", 500, "maximum leads to export")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	output, _ := cmd.Flags().GetString("output")
	limit, _ := cmd.Flags().GetInt("limit")

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := report.ExportLeads(ctx, st, output, limit)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d leads to %s\n", n, output)
	return nil
}
