// Package report writes the lead deliverable: an XLSX workbook of sellers
// with their contact signals, ranked by outreach score.
package report

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/contacts"
	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/store"
)

var leadHeader = []string{
	"Seller", "URL", "Est. Revenue", "Whale", "Outreach Score",
	"Emails", "Phones", "Domains", "Social", "Verified Contacts",
}

// ExportLeads writes up to limit leads to an XLSX file at path, highest
// outreach score first. Returns the number of leads written.
func ExportLeads(ctx context.Context, st store.Store, path string, limit int) (int, error) {
	leads, err := st.ListLeads(ctx, limit)
	if err != nil {
		return 0, err
	}

	type scored struct {
		lead  store.Lead
		score float64
	}
	rows := make([]scored, 0, len(leads))
	for _, l := range leads {
		rows = append(rows, scored{l, contacts.OutreachScore(l.Seller, l.Contacts)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].score > rows[j].score
	})

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return 0, eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range leadHeader {
		header.AddCell().SetString(h)
	}

	for _, r := range rows {
		addLeadRow(sheet, r.lead, r.score)
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "report: save %s", path)
	}
	zap.L().Info("report: leads exported",
		zap.String("path", path), zap.Int("leads", len(rows)))
	return len(rows), nil
}

func addLeadRow(sheet *xlsx.Sheet, lead store.Lead, score float64) {
	byType := make(map[model.ContactType][]string)
	verified := 0
	for _, c := range lead.Contacts {
		byType[c.Type] = append(byType[c.Type], c.Value)
		if c.Verified {
			verified++
		}
	}

	row := sheet.AddRow()
	row.AddCell().SetString(lead.Seller.Name)
	row.AddCell().SetString(lead.Seller.URL)
	row.AddCell().SetFloat(lead.Seller.TotalEstRevenue)
	row.AddCell().SetString(boolCell(lead.Seller.IsWhale))
	row.AddCell().SetFloat(score)
	row.AddCell().SetString(strings.Join(byType[model.ContactEmail], ", "))
	row.AddCell().SetString(strings.Join(byType[model.ContactPhone], ", "))
	row.AddCell().SetString(strings.Join(byType[model.ContactDomain], ", "))
	row.AddCell().SetString(strings.Join(byType[model.ContactSocial], ", "))
	row.AddCell().SetString(strconv.Itoa(verified))
}

func boolCell(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
