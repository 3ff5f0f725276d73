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
package fabric

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReadOnly is returned by backends asked to run a writing statement on a
// data source without AllowWrite.
var ErrReadOnly = errors.New("data source is read-only")

// DBType identifies the kind of data source.
type DBType string

const (
	DBTypeSQLite        DBType = "sqlite"
	DBTypeMySQL         DBType = "mysql"
	DBTypePostgres      DBType = "postgresql"
	DBTypeElasticsearch DBType = "elasticsearch"
)

// ParseDBType normalizes a user-supplied type name.
func ParseDBType(s string) (DBType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DBTypeSQLite, nil
	case "mysql", "mariadb":
		return DBTypeMySQL, nil
	case "postgresql", "postgres", "pg":
		return DBTypePostgres, nil
	case "elasticsearch", "es", "opensearch":
		return DBTypeElasticsearch, nil
	default:
		return "", fmt.Errorf("unsupported data source type: %q (supported: sqlite, mysql, postgresql, elasticsearch)", s)
	}
}

// IsSearchEngine reports whether the type is queried with a search DSL rather than SQL.
func (t DBType) IsSearchEngine() bool {
	return t == DBTypeElasticsearch
}

// IsRelational reports whether the type has tables and foreign keys.
func (t DBType) IsRelational() bool {
	switch t {
	case DBTypeSQLite, DBTypeMySQL, DBTypePostgres:
		return true
	}
	return false
}

// QueryLanguage is the fence tag used when showing a query of this type.
func (t DBType) QueryLanguage() string {
	if t.IsSearchEngine() {
		return "json"
	}
	return "sql"
}

// DataSource is a configured connection target.
type DataSource struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Type        DBType            `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// AllowWrite opts the data source into write mode for the safety validator.
	AllowWrite bool `json:"allow_write,omitempty" yaml:"allow_write,omitempty"`

	// SyncSchedule is a cron expression for periodic schema re-sync.
	SyncSchedule string `json:"sync_schedule,omitempty" yaml:"sync_schedule,omitempty"`
}

// Param returns a connection parameter or def when unset.
func (d *DataSource) Param(key, def string) string {
	if v, ok := d.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// Validate checks required fields.
func (d *DataSource) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("data source id is required")
	}
	t, err := ParseDBType(string(d.Type))
	if err != nil {
		return fmt.Errorf("data source %s: %w", d.ID, err)
	}
	d.Type = t
	if t.IsSearchEngine() {
		if d.Param("url", "") == "" && d.Param("addresses", "") == "" {
			return fmt.Errorf("data source %s: params.url is required for %s", d.ID, t)
		}
		return nil
	}
	if d.Param("dsn", "") == "" {
		return fmt.Errorf("data source %s: params.dsn is required for %s", d.ID, t)
	}
	return nil
}
