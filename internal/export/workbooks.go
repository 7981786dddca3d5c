// Package export builds Excel workbooks for shop owners.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/model"
	"salonbook/internal/segments"
)

// TableExporter provides access to a shop's tables for export.
type TableExporter interface {
	// GetTableNames returns list of table names to export.
	GetTableNames(ctx context.Context) ([]string, error)

	// GetTableData returns one shop's rows for a table as maps, with column order.
	GetTableData(ctx context.Context, tableName string, shopID int64) ([]map[string]interface{}, []string, error)
}

var customerColumns = []string{
	"Name", "Phone", "Visits", "Revenue", "First visit", "Last visit",
	"Days since last visit", "Avg cycle (days)", "Next visit", "VIP", "At risk", "Return soon",
}

// CustomersFilename is the download name of a shop's customer workbook.
func CustomersFilename(shopSlug string, now time.Time) string {
	return fmt.Sprintf("%s_customers_%s.xlsx", shopSlug, now.Format("20060102"))
}

// ShopDataFilename is the download name of a shop's full data dump.
func ShopDataFilename(shopSlug string, now time.Time) string {
	return fmt.Sprintf("%s_data_%s.xlsx", shopSlug, now.Format("20060102"))
}

// WriteCustomers writes a "Customers" sheet with segment flags and a "Summary" sheet.
func WriteCustomers(w ExcelWriter, profiles []segments.Profile, summary segments.Summary) error {
	if err := w.AddSheet("Customers"); err != nil {
		return err
	}
	if err := w.WriteHeader(customerColumns); err != nil {
		return err
	}
	for i := range profiles {
		if err := w.WriteRow(customerRow(&profiles[i])); err != nil {
			return fmt.Errorf("write customer %d: %w", profiles[i].ID, err)
		}
	}

	if err := w.AddSheet("Summary"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Segment", "Customers"}); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Total", summary.Total},
		{"VIP", summary.VIP},
		{"At risk", summary.AtRisk},
		{"Return soon", summary.ReturnSoon},
		{"VIP revenue cutoff", summary.VIPCutoff},
	}
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			return err
		}
	}
	return nil
}

func customerRow(p *segments.Profile) []interface{} {
	return []interface{}{
		p.Name,
		p.Phone,
		p.VisitCount,
		p.TotalRevenue,
		formatDate(p.FirstVisitDate),
		formatDate(p.LastVisit),
		intOrBlank(p.DaysSinceLastVisit),
		floatOrBlank(p.AvgCycleDays),
		formatDate(p.NextVisit),
		yesNo(p.IsVIP),
		yesNo(p.IsAtRisk),
		yesNo(p.IsReturnSoon),
	}
}

// WriteShopData writes one sheet per exportable table with the shop's rows.
func WriteShopData(ctx context.Context, w ExcelWriter, exporter TableExporter, shopID int64) error {
	tables, err := exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	for _, table := range tables {
		data, columns, err := exporter.GetTableData(ctx, table, shopID)
		if err != nil {
			return fmt.Errorf("get table %s: %w", table, err)
		}
		if err := w.AddSheet(table); err != nil {
			return err
		}
		if err := w.WriteHeader(columns); err != nil {
			return err
		}
		for _, row := range data {
			values := make([]interface{}, len(columns))
			for i, col := range columns {
				values[i] = cellValue(col, row[col])
			}
			if err := w.WriteRow(values); err != nil {
				return fmt.Errorf("write %s row: %w", table, err)
			}
		}
	}
	return nil
}

// CustomersWorkbook renders WriteCustomers into xlsx bytes.
func CustomersWorkbook(profiles []segments.Profile, summary segments.Summary) ([]byte, error) {
	return render(func(w ExcelWriter) error {
		return WriteCustomers(w, profiles, summary)
	})
}

// ShopDataWorkbook renders WriteShopData into xlsx bytes.
func ShopDataWorkbook(ctx context.Context, exporter TableExporter, shopID int64) ([]byte, error) {
	return render(func(w ExcelWriter) error {
		return WriteShopData(ctx, w, exporter, shopID)
	})
}

func render(fill func(ExcelWriter) error) ([]byte, error) {
	w := NewExcelizeWriter()
	defer w.Close()

	if err := fill(w); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := w.Save(&buf); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue keeps secrets out of exports and renders times in a sortable form.
func cellValue(column string, v interface{}) interface{} {
	if strings.HasSuffix(column, "_hash") {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return val
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(model.DateLayout)
}

func intOrBlank(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func floatOrBlank(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
