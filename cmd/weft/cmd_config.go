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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teradata-labs/weft/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage weft configuration and secrets",
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <key-name>",
	Short: "Save an API key to the system keyring",
	Long: heredoc.Doc(`
		Save an API key to the system keyring.

		The key is stored in the OS credential store (Keychain on macOS,
		Credential Manager on Windows, Secret Service on Linux). Environment
		variables take precedence over the keyring.

		Run 'weft config list-keys' to see the accepted key names.`),
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key <key-name>",
	Short: "Delete an API key from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteSecret(args[0]); err != nil {
			return secretError(args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s from system keyring\n", args[0])
		return nil
	},
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List secret key names and their environment variables",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, m := range config.SecretMappings() {
			status := "not set"
			if m.Get(cfg) != "" {
				status = "set"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-20s %s\n", m.KeyringKey, m.EnvVar, status)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration merged from defaults, the config file, the environment and flags. Secrets are omitted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printJSON(cmd.OutOrStdout(), cfg)
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of weft.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printJSON(cmd.OutOrStdout(), config.Schema())
	},
}

func init() {
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), keyName)
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	if err := config.SaveSecret(keyName, secret); err != nil {
		return secretError(keyName, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s to system keyring\n", keyName)
	return nil
}

// readSecret reads without echo from a terminal, or one line from piped input.
func readSecret(in io.Reader, prompt io.Writer, keyName string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "Enter %s (input hidden): ", keyName)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("error reading input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func secretError(keyName string, err error) error {
	if errors.Is(err, config.ErrUnknownSecret) {
		return fmt.Errorf("invalid key name %q (available: %s)", keyName, strings.Join(config.SecretKeys(), ", "))
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskSecret shows only the first and last four characters.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
