package db

import (
	"context"
	"database/sql"
	"fmt"
)

// shopTables maps exportable tables to the column holding the shop id.
var shopTables = map[string]string{
	"services":            "shop_id",
	"bookings":            "shop_id",
	"customers":           "shop_id",
	"customer_blocklist":  "shop_id",
	"shop_hours":          "shop_id",
	"shop_closed_dates":   "shop_id",
	"shop_slot_overrides": "shop_id",
}

// ExportTableNames lists tables included in a shop data export, in sheet order.
var ExportTableNames = []string{
	"services",
	"bookings",
	"customers",
	"customer_blocklist",
	"shop_hours",
	"shop_closed_dates",
	"shop_slot_overrides",
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return ExportTableNames, nil
}

// GetTableData returns one shop's rows of a table as maps, with the column order.
func (db *DB) GetTableData(ctx context.Context, tableName string, shopID int64) (data []map[string]interface{}, columns []string, err error) {
	shopColumn, ok := shopTables[tableName]
	if !ok {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	var rows *sql.Rows
	rows, err = db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var cid int
		var name, typeName string
		var notNull, pk int
		var dfltValue sql.NullString
		if err = rows.Scan(&cid, &name, &typeName, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return nil, nil, err
		}
		columns = append(columns, name)
	}
	rows.Close()

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", tableName, shopColumn), shopID)
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err = dataRows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		data = append(data, row)
	}

	return data, columns, dataRows.Err()
}
