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
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
)

var datasourceCmd = &cobra.Command{
	Use:     "datasource",
	Aliases: []string{"ds"},
	Short:   "Manage data sources",
}

var datasourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List data sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStores(cmd.Context(), func(st *stores) error {
			sources, err := st.sources.List(cmd.Context())
			if err != nil {
				return err
			}
			printDataSources(cmd.OutOrStdout(), sources)
			return nil
		})
	},
}

var datasourceShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one data source with secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(st *stores) error {
			ds, err := st.sources.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printDataSource(cmd.OutOrStdout(), ds)
			return nil
		})
	},
}

type addOptions struct {
	name         string
	dbType       string
	description  string
	params       map[string]string
	allowWrite   bool
	syncSchedule string
}

func newDatasourceAddCmd() *cobra.Command {
	var opts addOptions
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or replace a data source",
		Long: heredoc.Doc(`
			Add a data source, replacing any record with the same id.

			Relational sources need params.dsn; elasticsearch needs params.url and
			optionally username, password or api_key.`),
		Example: heredoc.Doc(`
			weft datasource add shop --type sqlite --param dsn=./shop.db
			weft datasource add dw --type postgresql --param dsn=postgres://ro@db/dw --sync "0 3 * * *"
			weft datasource add logs --type elasticsearch --param url=http://localhost:9200`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds := fabric.DataSource{
				ID:           args[0],
				Name:         opts.name,
				Type:         fabric.DBType(opts.dbType),
				Description:  opts.description,
				Params:       opts.params,
				AllowWrite:   opts.allowWrite,
				SyncSchedule: opts.syncSchedule,
			}
			if ds.Name == "" {
				ds.Name = ds.ID
			}
			if err := ds.Validate(); err != nil {
				return err
			}
			if ds.SyncSchedule != "" {
				if _, err := cron.ParseStandard(ds.SyncSchedule); err != nil {
					return fmt.Errorf("invalid sync schedule %q: %w", ds.SyncSchedule, err)
				}
			}
			return withStores(cmd.Context(), func(st *stores) error {
				if err := st.sources.Put(cmd.Context(), ds); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved data source %s (%s)\n", ds.ID, ds.Type)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: id)")
	cmd.Flags().StringVarP(&opts.dbType, "type", "t", "", "Type: sqlite, mysql, postgresql or elasticsearch (required)")
	cmd.Flags().StringVar(&opts.description, "description", "", "Description shown to the agents")
	cmd.Flags().StringToStringVarP(&opts.params, "param", "p", nil, "Connection parameter key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.allowWrite, "allow-write", false, "Let the safety validator pass write statements")
	cmd.Flags().StringVar(&opts.syncSchedule, "sync", "", "Cron expression for periodic schema re-sync")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

var datasourceRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a data source",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(st *stores) error {
			if err := st.sources.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed data source %s\n", args[0])
			return nil
		})
	},
}

var datasourceTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Connect to a data source and list its entities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log.L(), appOptions{discoveryOnly: true})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		backend, ds, err := a.pool.Backend(ctx, args[0])
		if err != nil {
			return err
		}
		if err := backend.Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", ds.ID, err)
		}
		entities, err := a.discovery.ListEntities(ctx, ds.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Connected to %s (%s), %d entities\n", ds.ID, ds.Type, len(entities))
		return nil
	},
}

var datasourceSchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List sync schedules and their next run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStores(cmd.Context(), func(st *stores) error {
			sources, err := st.sources.List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCRON\tNEXT")
			for _, ds := range sources {
				if ds.SyncSchedule == "" {
					continue
				}
				next := "invalid schedule"
				if sched, err := cron.ParseStandard(ds.SyncSchedule); err == nil {
					next = sched.Next(now).Format("2006-01-02 15:04 MST")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ds.ID, ds.SyncSchedule, next)
			}
			return tw.Flush()
		})
	},
}

func init() {
	datasourceCmd.AddCommand(datasourceListCmd)
	datasourceCmd.AddCommand(datasourceShowCmd)
	datasourceCmd.AddCommand(newDatasourceAddCmd())
	datasourceCmd.AddCommand(datasourceRemoveCmd)
	datasourceCmd.AddCommand(datasourceTestCmd)
	datasourceCmd.AddCommand(datasourceSchedulesCmd)
	rootCmd.AddCommand(datasourceCmd)
}

func withStores(ctx context.Context, fn func(*stores) error) error {
	st, err := openStores(ctx, cfg, observability.NewNoOpTracer(), log.L())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(st)
}

func printDataSources(w io.Writer, sources []fabric.DataSource) {
	if len(sources) == 0 {
		fmt.Fprintln(w, "No data sources. Add one with: weft datasource add <id> --type sqlite --param dsn=<path>")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tWRITE\tSYNC")
	for _, ds := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", ds.ID, ds.Name, ds.Type, ds.AllowWrite, ds.SyncSchedule)
	}
	_ = tw.Flush()
}

func printDataSource(w io.Writer, ds *fabric.DataSource) {
	fmt.Fprintf(w, "ID:          %s\n", ds.ID)
	fmt.Fprintf(w, "Name:        %s\n", ds.Name)
	fmt.Fprintf(w, "Type:        %s\n", ds.Type)
	if ds.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", ds.Description)
	}
	fmt.Fprintf(w, "Allow write: %t\n", ds.AllowWrite)
	if ds.SyncSchedule != "" {
		fmt.Fprintf(w, "Sync:        %s\n", ds.SyncSchedule)
	}
	if len(ds.Params) == 0 {
		return
	}
	keys := make([]string, 0, len(ds.Params))
	for k := range ds.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "Params:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, maskParam(k, ds.Params[k]))
	}
}

// maskParam hides credentials, including the password part of DSNs.
func maskParam(key, value string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "token") {
		return maskSecret(value)
	}
	if k == "dsn" {
		return maskDSN(value)
	}
	return value
}

// maskDSN replaces the password in user:password@ forms.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userinfo := dsn[:at]
	start := strings.Index(userinfo, "://") + 3
	if start < 3 {
		start = 0
	}
	colon := strings.Index(userinfo[start:], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:start+colon+1] + "****" + dsn[at:]
}
