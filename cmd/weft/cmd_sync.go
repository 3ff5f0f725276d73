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
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/internal/log"
)

var syncCmd = &cobra.Command{
	Use:   "sync <datasource-id>...",
	Short: "Rebuild the schema graph of data sources",
	Long:  `Re-introspect data sources and rebuild their schema graphs and embedding indices.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log.L(), appOptions{discoveryOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	for _, id := range args {
		g, err := a.resync(ctx, id)
		if err != nil && g == nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d tables, %d relations (version %d)\n", id, g.Len(), len(g.Compass()), g.Version)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "  warning: %v\n", err)
		}
	}
	return nil
}
