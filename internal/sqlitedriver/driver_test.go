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
package sqlitedriver_test

import (
	"database/sql"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/internal/sqlitedriver"
)

func TestDriverRegistered(t *testing.T) {
	assert.True(t, slices.Contains(sql.Drivers(), sqlitedriver.DriverName), "sqlite3 driver should be registered")
}

func TestKeyPragma(t *testing.T) {
	stmt, err := sqlitedriver.KeyPragma("it's secret")
	if !sqlitedriver.EncryptionSupported {
		assert.ErrorIs(t, err, sqlitedriver.ErrEncryptionUnsupported)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, "PRAGMA key = 'it''s secret'", stmt)
}

func TestBasicCRUD(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO test (name) VALUES (?)", "hello")
	require.NoError(t, err)

	var name string
	err = db.QueryRow("SELECT name FROM test WHERE id = 1").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "hello", name)
}

// Discovery relies on PRAGMA foreign_key_list to build join graphs.
func TestForeignKeyIntrospection(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id))`)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT "table", "from", "to" FROM pragma_foreign_key_list('orders')`)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var table, from, to string
	require.NoError(t, rows.Scan(&table, &from, &to))
	assert.Equal(t, "customers", table)
	assert.Equal(t, "customer_id", from)
	assert.Equal(t, "id", to)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
}
