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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/rivo/uniseg"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/export"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/types"
)

type askOptions struct {
	dataSourceID   string
	conversationID string
	userID         string
	execute        bool
	exportPath     string
	jsonOutput     bool
	quiet          bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about a data source",
		Long: heredoc.Doc(`
			Run one turn against a data source and print the answer.

			Pass --conversation to continue a conversation, for example to answer a
			clarifying question. With --execute a generated query is run read-only and
			the rows are printed; --export also writes them to an .xlsx file.`),
		Example: heredoc.Doc(`
			weft ask -d shop "which tables hold customer data"
			weft ask -d shop --execute "total sales per region last month"
			weft ask -d shop -c 7f1c... "the North region"`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts, appOptions{})
		},
	}
	cmd.Flags().StringVarP(&opts.dataSourceID, "datasource", "d", "", "Data source id (required)")
	cmd.Flags().StringVarP(&opts.conversationID, "conversation", "c", "", "Conversation id to continue")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id recorded with the conversation")
	cmd.Flags().BoolVar(&opts.execute, "execute", false, "Run the generated query")
	cmd.Flags().StringVar(&opts.exportPath, "export", "", "Write executed rows to this .xlsx file (implies --execute)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the turn result as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	_ = cmd.MarkFlagRequired("datasource")
	return cmd
}

func init() {
	rootCmd.AddCommand(newAskCmd())
}

func runAsk(cmd *cobra.Command, question string, opts askOptions, ao appOptions) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	a, err := newApp(ctx, cfg, log.L(), ao)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var progress types.ProgressCallback
	if !opts.quiet && !opts.jsonOutput {
		progress = func(ev types.ProgressEvent) { printProgress(errOut, ev) }
	}
	res, err := a.engine.RunTurn(ctx, orchestration.TurnRequest{
		ConversationID: opts.conversationID,
		UserID:         opts.userID,
		DataSourceID:   opts.dataSourceID,
		Message:        question,
	}, progress)
	if res == nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printTurn(out, opts.dataSourceID, res)
	}
	if res.Status == orchestration.StatusFailed {
		if err != nil {
			return fmt.Errorf("turn failed: %w", err)
		}
		return fmt.Errorf("turn failed")
	}

	query := res.SQL
	if query == "" {
		query = res.Query
	}
	if !(opts.execute || opts.exportPath != "") || res.Status != orchestration.StatusFinal || query == "" {
		return nil
	}

	executedAt := time.Now()
	result, err := a.engine.Execute(ctx, orchestration.ExecuteRequest{
		DataSourceID:   opts.dataSourceID,
		Query:          query,
		Index:          res.Index,
		ConversationID: res.ConversationID,
		UserID:         opts.userID,
	})
	if err != nil {
		return err
	}
	if !opts.jsonOutput {
		fmt.Fprintln(out)
		printRows(out, result)
	}
	if opts.exportPath != "" {
		if err := export.SaveXLSX(opts.exportPath, result, export.Options{
			Query:        query,
			DataSourceID: opts.dataSourceID,
			ExecutedAt:   executedAt,
		}); err != nil {
			return err
		}
		fmt.Fprintf(errOut, "✓ Wrote %d rows to %s\n", result.RowCount, opts.exportPath)
	}
	return nil
}

func printProgress(w io.Writer, ev types.ProgressEvent) {
	switch ev.Stage {
	case types.StageClassified:
		fmt.Fprintf(w, "→ %s\n", ev.Role)
	case types.StageToolCall:
		fmt.Fprintf(w, "  · %s\n", ev.ToolName)
	case types.StageFailed:
		fmt.Fprintf(w, "✗ %s\n", ev.Message)
	}
}

func printTurn(w io.Writer, dataSourceID string, res *orchestration.TurnResult) {
	if res.Status != orchestration.StatusClarification || res.Clarification == nil {
		fmt.Fprintln(w, res.Text)
		return
	}
	fmt.Fprintln(w, res.Clarification.Question)
	for i, o := range res.Clarification.Options {
		fmt.Fprintf(w, "  %d. %s\n", i+1, o)
	}
	fmt.Fprintf(w, "\nReply with: weft ask -d %s -c %s \"<answer>\"\n", dataSourceID, res.ConversationID)
}

// printRows prints a result as an aligned table.
// maxCellWidth caps a table cell in terminal columns.
const maxCellWidth = 48

// truncateCell shortens s to at most max terminal columns without splitting
// a grapheme cluster. Tabs and newlines would break the table layout.
func truncateCell(s string, max int) string {
	s = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
	if uniseg.StringWidth(s) <= max {
		return s
	}
	var b strings.Builder
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		if width+g.Width() > max-1 {
			break
		}
		width += g.Width()
		b.WriteString(g.Str())
	}
	return b.String() + "…"
}

func printRows(w io.Writer, result *fabric.QueryResult) {
	names := result.ColumnNames()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(names))
		for i, n := range names {
			if v := row[n]; v != nil {
				cells[i] = truncateCell(fmt.Sprint(v), maxCellWidth)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	suffix := ""
	if result.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(w, "(%d rows%s)\n", result.RowCount, suffix)
}
