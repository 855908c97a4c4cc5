package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ScriptResponder answers from the active script. The script can be swapped
// at runtime; readers always see a complete script.
type ScriptResponder struct {
	mu     sync.RWMutex
	script *Script
	path   string // "" = embedded default
}

// NewScriptResponder loads the script at path (or the embedded default when
// path is empty) and returns a responder bound to it.
func NewScriptResponder(path string) (*ScriptResponder, error) {
	script, err := LoadScript(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return &ScriptResponder{script: script, path: path}, nil
}

// Reply returns the simulated customer's answer to the trainee's message.
func (r *ScriptResponder) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	r.mu.RLock()
	script := r.script
	r.mu.RUnlock()

	return script.reply(req.Query, req.Seq), nil
}

// Advice reviews a completed exchange. The NO_ADVICE sentinel is normalized
// here so it never leaves the server. The match is a case-insensitive prefix
// so scripts may write "no_advice" or "NO_ADVICE: doing fine".
func (r *ScriptResponder) Advice(ctx context.Context, req AdviceRequest) (string, error) {
	r.mu.RLock()
	script := r.script
	r.mu.RUnlock()

	advice := script.advice(req.UserText)
	if strings.HasPrefix(strings.ToUpper(advice), NoAdviceSentinel) {
		return NoAdviceText, nil
	}
	return advice, nil
}

// Persona returns the active script's customer persona line.
func (r *ScriptResponder) Persona() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.script.Persona
}

// Reload re-reads the script from its original source and swaps it in.
// On failure the previous script stays active.
func (r *ScriptResponder) Reload() error {
	script, err := LoadScript(r.path)
	if err != nil {
		return fmt.Errorf("reload scenario: %w", err)
	}

	r.mu.Lock()
	r.script = script
	r.mu.Unlock()

	slog.Info("scenario script reloaded",
		"path", r.path,
		"customer_rules", len(script.CustomerRules),
		"coach_rules", len(script.CoachRules))
	return nil
}
