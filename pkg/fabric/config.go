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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DataSourcesYAML is the on-disk format of the data-source file.
//
//	apiVersion: weft/v1
//	kind: DataSourceList
//	datasources:
//	  - id: shop
//	    type: postgresql
//	    params:
//	      dsn: ${SHOP_DSN}
type DataSourcesYAML struct {
	APIVersion  string       `yaml:"apiVersion"`
	Kind        string       `yaml:"kind"`
	DataSources []DataSource `yaml:"datasources"`
}

// LoadDataSources reads and validates a data-source file.
// ${VAR} references are expanded from the environment before parsing.
func LoadDataSources(path string) ([]DataSource, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read data source file %s: %w", path, err)
	}
	return ParseDataSources(data)
}

// ParseDataSources parses data-source YAML.
func ParseDataSources(data []byte) ([]DataSource, error) {
	var doc DataSourcesYAML
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse data source YAML: %w", err)
	}
	if doc.Kind != "" && doc.Kind != "DataSourceList" {
		return nil, fmt.Errorf("unexpected kind %q (expected DataSourceList)", doc.Kind)
	}

	seen := make(map[string]bool, len(doc.DataSources))
	for i := range doc.DataSources {
		ds := &doc.DataSources[i]
		if err := ds.Validate(); err != nil {
			return nil, fmt.Errorf("datasources[%d]: %w", i, err)
		}
		if seen[ds.ID] {
			return nil, fmt.Errorf("datasources[%d]: duplicate id %q", i, ds.ID)
		}
		seen[ds.ID] = true
		if ds.Name == "" {
			ds.Name = ds.ID
		}
	}
	return doc.DataSources, nil
}

// MarshalDataSources renders data sources in the file format.
func MarshalDataSources(sources []DataSource) ([]byte, error) {
	return yaml.Marshal(DataSourcesYAML{
		APIVersion:  "weft/v1",
		Kind:        "DataSourceList",
		DataSources: sources,
	})
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
