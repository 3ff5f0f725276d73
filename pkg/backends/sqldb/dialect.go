// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/teradata-labs/weft/pkg/fabric"
)

// dialect holds the per-database introspection queries.
type dialect struct {
	kind     fabric.DBType
	driver   string
	textCast string
	quote    func(string) string

	resources   func(ctx context.Context, db *sql.DB) ([]fabric.Resource, error)
	columns     func(ctx context.Context, db *sql.DB, table string) ([]fabric.Field, error)
	foreignKeys func(ctx context.Context, db *sql.DB, table string) (map[string]fabric.ForeignKey, error)
}

var sqliteDialect = dialect{
	kind:        fabric.DBTypeSQLite,
	driver:      "sqlite3",
	textCast:    "TEXT",
	quote:       quoteWith(`"`),
	resources:   sqliteResources,
	columns:     sqliteColumns,
	foreignKeys: sqliteForeignKeys,
}

var mysqlDialect = dialect{
	kind:        fabric.DBTypeMySQL,
	driver:      "mysql",
	textCast:    "CHAR",
	quote:       quoteWith("`"),
	resources:   mysqlResources,
	columns:     mysqlColumns,
	foreignKeys: mysqlForeignKeys,
}

func dialectFor(t fabric.DBType) (dialect, error) {
	switch t {
	case fabric.DBTypeSQLite:
		return sqliteDialect, nil
	case fabric.DBTypeMySQL:
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("sqldb does not support %q", t)
	}
}

// quoteWith quotes an identifier, doubling embedded quote characters.
// A dotted name is quoted part by part so schema.table keeps working.
func quoteWith(q string) func(string) string {
	return func(ident string) string {
		parts := strings.Split(ident, ".")
		for i, p := range parts {
			parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
		}
		return strings.Join(parts, ".")
	}
}

func sqliteResources(ctx context.Context, db *sql.DB) ([]fabric.Resource, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var resources []fabric.Resource
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		resources = append(resources, fabric.Resource{Name: name, Type: typ})
	}
	return resources, rows.Err()
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]fabric.Field, error) {
	// pragma_table_info format: cid, name, type, notnull, dflt_value, pk
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fields []fabric.Field
	for rows.Next() {
		var name, typ string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		field := fabric.Field{
			Name:       name,
			Type:       typ,
			Nullable:   notnull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		}
		if dfltValue.Valid {
			field.Default = dfltValue.String
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) (map[string]fabric.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	fks := make(map[string]fabric.ForeignKey)
	for rows.Next() {
		var from, refTable string
		var to sql.NullString
		if err := rows.Scan(&from, &refTable, &to); err != nil {
			return nil, err
		}
		if _, dup := fks[from]; dup {
			continue
		}
		fks[from] = fabric.ForeignKey{ReferencedTable: refTable, ReferencedColumn: to.String}
	}
	return fks, rows.Err()
}

func mysqlResources(ctx context.Context, db *sql.DB) ([]fabric.Resource, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, TABLE_TYPE, COALESCE(TABLE_COMMENT, ''), COALESCE(TABLE_ROWS, -1)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var resources []fabric.Resource
	for rows.Next() {
		var name, typ, comment string
		var estimate int64
		if err := rows.Scan(&name, &typ, &comment, &estimate); err != nil {
			return nil, err
		}
		r := fabric.Resource{Name: name, Type: strings.ToLower(strings.TrimPrefix(typ, "BASE ")), Description: comment}
		if estimate >= 0 {
			r.Metadata = map[string]interface{}{"row_estimate": estimate}
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

func mysqlColumns(ctx context.Context, db *sql.DB, table string) ([]fabric.Field, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, COALESCE(COLUMN_COMMENT, '')
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fields []fabric.Field
	for rows.Next() {
		var name, dataType, isNullable, key, comment string
		var columnDefault sql.NullString
		if err := rows.Scan(&name, &dataType, &isNullable, &key, &columnDefault, &comment); err != nil {
			return nil, err
		}
		field := fabric.Field{
			Name:        name,
			Type:        dataType,
			Description: comment,
			Nullable:    strings.EqualFold(isNullable, "YES"),
			PrimaryKey:  key == "PRI",
		}
		if columnDefault.Valid {
			field.Default = columnDefault.String
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}

func mysqlForeignKeys(ctx context.Context, db *sql.DB, table string) (map[string]fabric.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		  AND TABLE_NAME = ?
		  AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	fks := make(map[string]fabric.ForeignKey)
	for rows.Next() {
		var col, refTable, refCol string
		if err := rows.Scan(&col, &refTable, &refCol); err != nil {
			return nil, err
		}
		if _, dup := fks[col]; dup {
			continue
		}
		fks[col] = fabric.ForeignKey{ReferencedTable: refTable, ReferencedColumn: refCol}
	}
	return fks, rows.Err()
}
