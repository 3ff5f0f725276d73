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
package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/weft/pkg/types"
)

// TokenCounter counts tokens with tiktoken's cl100k_base encoding, a close
// enough approximation for Claude models.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns the process-wide token counter. Without the
// encoding (offline first run) it falls back to four characters per token.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalTokenCounter = &TokenCounter{}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count of text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return (len(text) + 3) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the prompt size of messages, counting
// about ten tokens of framing per message.
func (tc *TokenCounter) EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += 10 + tc.CountTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += tc.CountTokens(call.Name) + tc.CountTokens(fmt.Sprintf("%v", call.Input))
		}
	}
	return total
}

// Truncate shortens text to at most maxTokens tokens and appends a marker
// saying how much was dropped. Text within budget is returned unchanged.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if tc.encoder == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return truncationMarker(validPrefix(text, limit), len(text)-limit, "bytes")
	}

	tc.mu.Lock()
	tokens := tc.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		tc.mu.Unlock()
		return text
	}
	head := strings.ToValidUTF8(tc.encoder.Decode(tokens[:maxTokens]), "")
	tc.mu.Unlock()
	return truncationMarker(head, len(tokens)-maxTokens, "tokens")
}

func truncationMarker(head string, dropped int, unit string) string {
	return fmt.Sprintf("%s\n... [truncated %d %s; narrow the request (fewer rows, one table, a tighter filter) to see more]", head, dropped, unit)
}

// validPrefix cuts s to at most n bytes without splitting a UTF-8 sequence.
func validPrefix(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
