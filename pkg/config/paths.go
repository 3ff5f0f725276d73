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
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "WEFT_DATA_DIR"

// GetWeftDataDir returns the weft data directory.
//
// Priority:
// 1. WEFT_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.weft (default)
//
// The returned path is always absolute. Tilde (~) in WEFT_DATA_DIR is expanded to the user's home directory.
//
// This function is called during bootstrap (before the config file is loaded) to locate the config file itself,
// so it reads os.Getenv directly rather than viper.
//
// Examples:
//
//	WEFT_DATA_DIR=/srv/weft       -> /srv/weft
//	WEFT_DATA_DIR=~/weft-data     -> /home/user/weft-data
//	WEFT_DATA_DIR not set         -> /home/user/.weft
func GetWeftDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return ExpandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(homeDir, ".weft")
}

// GetWeftSubDir returns a path within the data directory.
// Example: GetWeftSubDir("vectors") returns ~/.weft/vectors
func GetWeftSubDir(subdir string) string {
	return filepath.Join(GetWeftDataDir(), subdir)
}

// ExpandPath expands a leading ~ and makes the path absolute.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
