package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

//go:embed default_script.json
var defaultScriptJSON []byte

// Script is a parsed scenario definition.
type Script struct {
	Persona         string       `json:"persona"`
	CustomerRules   []ReplyRule  `json:"customer_rules"`
	FallbackReplies []string     `json:"fallback_replies"`
	CoachRules      []AdviceRule `json:"coach_rules"`
}

// ReplyRule maps trigger keywords to customer replies. Multiple replies
// rotate by turn so repeated triggers do not sound canned.
type ReplyRule struct {
	Keywords []string `json:"keywords"`
	Replies  []string `json:"replies"`
}

// AdviceRule maps trigger keywords to one piece of coach advice.
// The advice may be the NO_ADVICE sentinel.
type AdviceRule struct {
	Keywords []string `json:"keywords"`
	Advice   string   `json:"advice"`
}

// ParseScript decodes and validates a scenario script.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := script.validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &script, nil
}

// LoadScript reads a script from path, or the embedded default when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return ParseScript(defaultScriptJSON)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return ParseScript(data)
}

func (s *Script) validate() error {
	if len(s.FallbackReplies) == 0 {
		return fmt.Errorf("at least one fallback reply is required")
	}
	for i, r := range s.CustomerRules {
		if len(r.Keywords) == 0 {
			return fmt.Errorf("customer rule %d has no keywords", i)
		}
		if len(r.Replies) == 0 {
			return fmt.Errorf("customer rule %d has no replies", i)
		}
	}
	for i, r := range s.CoachRules {
		if len(r.Keywords) == 0 {
			return fmt.Errorf("coach rule %d has no keywords", i)
		}
		if r.Advice == "" {
			return fmt.Errorf("coach rule %d has no advice", i)
		}
	}
	return nil
}

// reply picks the customer answer for a query, falling back to the rotating
// fallback replies when no rule matches.
func (s *Script) reply(query string, seq int) string {
	words := wordSet(query)
	lower := strings.ToLower(query)
	for _, rule := range s.CustomerRules {
		if matchesAny(rule.Keywords, words, lower) {
			return rule.Replies[indexFor(seq, len(rule.Replies))]
		}
	}
	return s.FallbackReplies[indexFor(seq, len(s.FallbackReplies))]
}

// advice picks coach advice for a completed exchange. Returns "" when no
// rule matches; the sentinel passes through untouched for the responder to
// normalize.
func (s *Script) advice(userText string) string {
	words := wordSet(userText)
	lower := strings.ToLower(userText)
	for _, rule := range s.CoachRules {
		if matchesAny(rule.Keywords, words, lower) {
			return rule.Advice
		}
	}
	return ""
}

// matchesAny reports whether any keyword triggers. Single words must match a
// whole word of the query; multi-word keywords match as substrings.
func matchesAny(keywords []string, words map[string]bool, lowerQuery string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(lowerQuery, kw) {
				return true
			}
			continue
		}
		if words[kw] {
			return true
		}
	}
	return false
}

// wordSet splits text into lowercase words, dropping punctuation.
func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func indexFor(seq, n int) int {
	if n <= 0 {
		return 0
	}
	i := (seq - 1) % n
	if i < 0 {
		i = 0
	}
	return i
}
