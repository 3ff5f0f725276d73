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
// Package schemagraph turns the foreign-key metadata of one data source into
// an in-memory graph and answers structural questions over it: entity
// listing, shortest join paths, the full relation topology ("compass") and
// keyword search across text columns.
package schemagraph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entity is a listed table, view or index.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ColumnRef points at a column of another table.
type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column is one column of a table.
type Column struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Nullable    bool       `json:"nullable"`
	PrimaryKey  bool       `json:"primary_key,omitempty"`
	Description string     `json:"description,omitempty"`
	References  *ColumnRef `json:"references,omitempty"`
}

// Table is a node of the graph.
type Table struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	RowEstimate int64    `json:"row_estimate,omitempty"`
	Columns     []Column `json:"columns"`
}

// TextColumns returns the names of columns whose type holds text.
func (t *Table) TextColumns() []string {
	var cols []string
	for _, c := range t.Columns {
		if IsTextType(c.Type) {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Edge is a foreign-key relation (FromTable.FromColumn) -> (ToTable.ToColumn).
type Edge struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.FromTable, e.FromColumn, e.ToTable, e.ToColumn)
}

// step is one traversal option out of a node. Edges are walked in both directions.
type step struct {
	edge    int
	to      string
	forward bool
}

// Graph is the immutable schema graph of one data source at one sync version.
type Graph struct {
	DataSourceID string
	Version      uint64
	BuiltAt      time.Time

	tables map[string]*Table
	names  []string
	lower  map[string]string
	edges  []Edge
	adj    map[string][]step
}

// NewGraph builds a graph. Tables are ordered by name and edges keep their
// given order; adjacency follows edge order, which fixes the tie-break
// between equally short join paths. Edges that reference tables outside the
// set are dropped, so a graph never spans data sources.
func NewGraph(dataSourceID string, tables []Table, edges []Edge) *Graph {
	g := &Graph{
		DataSourceID: dataSourceID,
		BuiltAt:      time.Now(),
		tables:       make(map[string]*Table, len(tables)),
		lower:        make(map[string]string, len(tables)),
		adj:          make(map[string][]step, len(tables)),
	}
	for i := range tables {
		t := tables[i]
		g.tables[t.Name] = &t
		g.names = append(g.names, t.Name)
		g.lower[strings.ToLower(t.Name)] = t.Name
	}
	sort.Strings(g.names)

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if g.tables[e.FromTable] == nil || g.tables[e.ToTable] == nil || seen[e] {
			continue
		}
		seen[e] = true
		idx := len(g.edges)
		g.edges = append(g.edges, e)
		if e.FromTable == e.ToTable {
			continue
		}
		g.adj[e.FromTable] = append(g.adj[e.FromTable], step{edge: idx, to: e.ToTable, forward: true})
		g.adj[e.ToTable] = append(g.adj[e.ToTable], step{edge: idx, to: e.FromTable, forward: false})
	}
	return g
}

// Entities lists every table in name order.
func (g *Graph) Entities() []Entity {
	out := make([]Entity, 0, len(g.names))
	for _, n := range g.names {
		t := g.tables[n]
		out = append(out, Entity{Name: t.Name, Type: t.Type, Description: t.Description})
	}
	return out
}

// TableNames returns table names in sorted order.
func (g *Graph) TableNames() []string {
	return append([]string(nil), g.names...)
}

// Len returns the number of tables.
func (g *Graph) Len() int {
	return len(g.names)
}

// Resolve maps a user supplied name onto a table, ignoring case.
func (g *Graph) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if _, ok := g.tables[name]; ok {
		return name, nil
	}
	if n, ok := g.lower[strings.ToLower(name)]; ok {
		return n, nil
	}
	return "", unknownTable(name, g.names)
}

// Describe returns the table with its columns and their references.
func (g *Graph) Describe(name string) (*Table, error) {
	n, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	t := *g.tables[n]
	t.Columns = append([]Column(nil), t.Columns...)
	return &t, nil
}

// Compass returns every foreign-key edge, in discovery order.
func (g *Graph) Compass() []Edge {
	return append([]Edge(nil), g.edges...)
}

// JoinStep is one hop of a join path, oriented in walk direction.
type JoinStep struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// Fragment renders the hop as "JOIN <to> ON <from>.<col> = <to>.<col>".
func (s JoinStep) Fragment() string {
	return fmt.Sprintf("JOIN %s ON %s.%s = %s.%s", s.ToTable, s.FromTable, s.FromColumn, s.ToTable, s.ToColumn)
}

// JoinPath finds a shortest foreign-key path from start to end by breadth-first
// search over the undirected graph. start == end yields an empty path.
func (g *Graph) JoinPath(start, end string) ([]JoinStep, error) {
	from, err := g.Resolve(start)
	if err != nil {
		return nil, err
	}
	to, err := g.Resolve(end)
	if err != nil {
		return nil, err
	}
	if from == to {
		return []JoinStep{}, nil
	}

	// cameFrom maps a node to the step that reached it; the start maps to nil.
	cameFrom := map[string]*step{from: nil}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			return g.reconstruct(cameFrom, from, to), nil
		}
		for _, s := range g.adj[current] {
			if _, visited := cameFrom[s.to]; visited {
				continue
			}
			cameFrom[s.to] = &s
			queue = append(queue, s.to)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPathFound, from, to)
}

func (g *Graph) reconstruct(cameFrom map[string]*step, from, to string) []JoinStep {
	var path []JoinStep
	for node := to; node != from; {
		s := cameFrom[node]
		e := g.edges[s.edge]
		var js JoinStep
		if s.forward {
			js = JoinStep{FromTable: e.FromTable, FromColumn: e.FromColumn, ToTable: e.ToTable, ToColumn: e.ToColumn}
		} else {
			js = JoinStep{FromTable: e.ToTable, FromColumn: e.ToColumn, ToTable: e.FromTable, ToColumn: e.FromColumn}
		}
		path = append(path, js)
		node = js.FromTable
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindJoinPath returns one JOIN fragment per hop from start to end; start is
// the implicit base table.
func (g *Graph) FindJoinPath(start, end string) ([]string, error) {
	steps, err := g.JoinPath(start, end)
	if err != nil {
		return nil, err
	}
	fragments := make([]string, len(steps))
	for i, s := range steps {
		fragments[i] = s.Fragment()
	}
	return fragments, nil
}

var textTypeMarkers = []string{"char", "text", "string", "clob", "keyword"}

// IsTextType reports whether a column type holds free text and is worth a
// keyword scan.
func IsTextType(typ string) bool {
	t := strings.ToLower(typ)
	for _, m := range textTypeMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
