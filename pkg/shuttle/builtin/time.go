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
package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/shuttle"
)

// ToolGetCurrentTime is the time lookup tool.
const ToolGetCurrentTime = "get_current_time"

// TimeRange is a half-open [Start, End) interval.
type TimeRange struct {
	Phrase string    `json:"phrase"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

var (
	lastNDays  = regexp.MustCompile(`^(?:last|past)\s+(\d+)\s+days?$`)
	recentDays = regexp.MustCompile(`^(?:最近|过去|近)(\d+)(?:天|日)$`)
)

// ResolveRelative turns a relative time phrase into a date range in now's
// location. Supported: today, yesterday, this/last week, this/last month,
// this/last year, last N days, and the Chinese equivalents.
func ResolveRelative(phrase string, now time.Time) (TimeRange, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())

	r := TimeRange{Phrase: phrase}
	switch p {
	case "today", "今天", "今日":
		r.Start, r.End = day, day.AddDate(0, 0, 1)
	case "yesterday", "昨天", "昨日":
		r.Start, r.End = day.AddDate(0, 0, -1), day
	case "this week", "本周", "这周":
		r.Start, r.End = weekStart, weekStart.AddDate(0, 0, 7)
	case "last week", "上周":
		r.Start, r.End = weekStart.AddDate(0, 0, -7), weekStart
	case "this month", "本月", "这个月":
		r.Start, r.End = monthStart, monthStart.AddDate(0, 1, 0)
	case "last month", "上月", "上个月":
		r.Start, r.End = monthStart.AddDate(0, -1, 0), monthStart
	case "this year", "今年":
		r.Start, r.End = yearStart, yearStart.AddDate(1, 0, 0)
	case "last year", "去年":
		r.Start, r.End = yearStart.AddDate(-1, 0, 0), yearStart
	default:
		m := lastNDays.FindStringSubmatch(p)
		if m == nil {
			m = recentDays.FindStringSubmatch(p)
		}
		if m == nil {
			return r, false
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return r, false
		}
		r.Start, r.End = day.AddDate(0, 0, -n+1), day.AddDate(0, 0, 1)
	}
	return r, true
}

// NewGetCurrentTimeTool returns the current time, optionally in a named
// timezone, and resolves relative phrases such as "last month".
func NewGetCurrentTimeTool(env *Env) shuttle.Tool {
	return &tool{
		name: ToolGetCurrentTime,
		description: "Return the current date and time. Pass timezone (IANA name such as Asia/Shanghai) to convert it, " +
			"and phrase (e.g. \"last month\", \"去年\", \"last 7 days\") to get the matching [start, end) date range.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"timezone": shuttle.NewStringSchema("IANA timezone identifier; defaults to the server timezone"),
			"phrase":   shuttle.NewStringSchema("Relative time phrase to resolve"),
		}, nil),
		run: func(_ context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			loc := env.location()
			if tz := stringParam(params, "timezone"); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return shuttle.Failure(shuttle.CodeInvalidArguments,
						fmt.Sprintf("unknown timezone %q", tz), "use an IANA name such as UTC or Europe/Berlin"), nil
				}
				loc = l
			}
			now := env.now().In(loc)
			out := map[string]interface{}{
				"now":      now.Format(time.RFC3339),
				"date":     now.Format("2006-01-02"),
				"weekday":  now.Weekday().String(),
				"timezone": loc.String(),
			}
			if phrase := stringParam(params, "phrase"); phrase != "" {
				r, ok := ResolveRelative(phrase, now)
				if !ok {
					return shuttle.Failure(shuttle.CodeInvalidArguments,
						fmt.Sprintf("cannot resolve time phrase %q", phrase),
						"supported: today, yesterday, this/last week, this/last month, this/last year, last N days"), nil
				}
				out["range"] = map[string]string{
					"phrase": r.Phrase,
					"start":  r.Start.Format("2006-01-02"),
					"end":    r.End.Format("2006-01-02"),
				}
			}
			return shuttle.Success(out), nil
		},
	}
}
