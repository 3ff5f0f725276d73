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
package supervisor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

var (
	discoveryKeywords = []string{
		"字段", "表结构", "有哪些表", "哪些表", "有哪些字段", "列名", "结构", "关系", "关联", "外键", "主键", "索引有哪些", "什么意思", "含义",
		"schema", "column", "columns", "field", "fields", "describe", "structure", "what tables", "which tables",
		"list tables", "relationship", "relationships", "related", "foreign key", "primary key", "mapping", "mappings",
	}
	generationKeywords = []string{
		"统计", "多少", "查询", "计算", "总数", "总额", "总和", "平均", "最高", "最低", "最多", "最少", "排名", "前十", "趋势", "销售额",
		"增长", "占比", "每月", "每天", "去年", "今年", "上个月", "生成", "写一个", "sql",
		"count", "sum", "total", "average", "avg", "how many", "how much", "top", "rank", "trend", "per month",
		"per day", "last year", "this year", "last month", "revenue", "sales", "write a query", "generate", "select",
		"find all", "show me", "group by", "filter",
	}
)

type keywordMatcher struct {
	cjk   []string
	latin []*regexp.Regexp
}

func newKeywordMatcher(words []string) keywordMatcher {
	var m keywordMatcher
	for _, w := range words {
		if isCJK(w) {
			m.cjk = append(m.cjk, w)
			continue
		}
		m.latin = append(m.latin, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return m
}

func (m keywordMatcher) score(message string) int {
	n := 0
	for _, w := range m.cjk {
		if strings.Contains(message, w) {
			n++
		}
	}
	for _, re := range m.latin {
		if re.MatchString(message) {
			n++
		}
	}
	return n
}

// normalizeMessage folds full-width Latin letters (common in IME input) to
// their ASCII forms and applies Unicode case folding.
func normalizeMessage(message string) string {
	return cases.Fold().String(width.Fold.String(message))
}

func isCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// KeywordClassifier labels messages offline by counting Chinese and English
// keywords. Ties go to discovery, which never writes a query. A message with
// no keyword at all is ErrClassification.
type KeywordClassifier struct {
	discovery  keywordMatcher
	generation keywordMatcher
}

// NewKeywordClassifier creates a classifier with the built-in keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		discovery:  newKeywordMatcher(discoveryKeywords),
		generation: newKeywordMatcher(generationKeywords),
	}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, message string) (Label, error) {
	message = normalizeMessage(message)
	d := k.discovery.score(message)
	g := k.generation.score(message)
	switch {
	case d == 0 && g == 0:
		return "", fmt.Errorf("%w: no intent keywords", ErrClassification)
	case g > d:
		return LabelGeneration, nil
	default:
		return LabelDiscovery, nil
	}
}
