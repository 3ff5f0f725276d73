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
// Package backends wires the concrete data source drivers into a fabric.Registry.
package backends

import (
	"github.com/teradata-labs/weft/pkg/backends/elasticsearch"
	"github.com/teradata-labs/weft/pkg/backends/postgres"
	"github.com/teradata-labs/weft/pkg/backends/sqldb"
	"github.com/teradata-labs/weft/pkg/fabric"
)

// Register adds a factory for every supported data source type.
func Register(r *fabric.Registry) {
	r.Register(fabric.DBTypeSQLite, sqldb.Factory)
	r.Register(fabric.DBTypeMySQL, sqldb.Factory)
	r.Register(fabric.DBTypePostgres, postgres.Factory)
	r.Register(fabric.DBTypeElasticsearch, elasticsearch.Factory)
}

// NewRegistry returns a registry with all built-in backends.
func NewRegistry() *fabric.Registry {
	r := fabric.NewRegistry()
	Register(r)
	return r
}
