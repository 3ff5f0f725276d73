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
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/internal/version"
	"github.com/teradata-labs/weft/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft - natural-language questions over databases and search indices",
	Long: heredoc.Doc(`
		Weft answers questions about your data. A supervisor routes each question
		either to a discovery agent that explores tables, columns and relations, or
		to a generation agent that writes a read-only SQL or search query.

		Data sources are sqlite, mysql, postgresql or elasticsearch connections,
		stored in the weft database or in a YAML file (datasources_file).`),
	Version:           version.Get(),
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}
Support:
  GitHub: https://github.com/teradata-labs/weft/issues
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $WEFT_DATA_DIR/weft.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().String("datasources-file", "", "YAML file of data sources (default: stored in the weft database)")
	rootCmd.PersistentFlags().String("llm-provider", "anthropic", "LLM provider (anthropic, bedrock)")
	rootCmd.PersistentFlags().String("model", "", "Model id")

	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.json", rootCmd.PersistentFlags().Lookup("log-json"))
	_ = v.BindPFlag("datasources_file", rootCmd.PersistentFlags().Lookup("datasources-file"))
	_ = v.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = v.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))
}

// initConfig loads .env files, the config file and the environment, then
// sets up the global logger.
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFiles("."); err != nil {
		return err
	}
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if _, err := log.Init(cfg.Logging.Level, cfg.Logging.JSON); err != nil {
		return err
	}
	return nil
}
