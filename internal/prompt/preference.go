// Package prompt holds the system prompt preference that is prepended to
// outgoing conversations.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"chatrelay/internal/kv"
	"chatrelay/pkg/domain"
)

// Storage keys.
const (
	TextKey    = "systemPrompt"
	EnabledKey = "systemPromptEnabled"
)

// DefaultPreset names the built-in prompt.
const DefaultPreset = "default"

// DefaultText is used until the user picks something else.
const DefaultText = "You are GPT-4o mini, a helpful AI assistant. Your responses should be informative, concise, and accurate."

var presets = map[string]string{
	DefaultPreset:  DefaultText,
	"concise":      "You are GPT-4o mini. Provide extremely concise responses using as few words as possible while maintaining clarity.",
	"detailed":     "You are GPT-4o mini. Provide detailed, comprehensive responses with thorough explanations, examples, and nuanced analysis.",
	"friendly":     "You are GPT-4o mini, a friendly and conversational assistant. Use a warm, casual tone with simple language and occasional humor.",
	"professional": "You are GPT-4o mini, a professional assistant. Maintain formal tone, use precise terminology, and structure responses with clear sections.",
	"creative":     "You are GPT-4o mini, a creative assistant. Provide imaginative, original responses with vivid descriptions and unique perspectives.",
}

// Presets returns a copy of the read-only preset table.
func Presets() map[string]string {
	out := make(map[string]string, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}

// PresetNames returns preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Preference is the current prompt text and whether it is applied.
type Preference struct {
	mu      sync.RWMutex
	store   kv.Store
	text    string
	enabled bool
}

// Open reads the saved preference. Missing or unreadable values fall back to
// the defaults; read failures are logged.
func Open(ctx context.Context, store kv.Store, logger *slog.Logger) *Preference {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preference{store: store, text: DefaultText, enabled: true}
	if store == nil {
		return p
	}
	if raw, ok, err := store.Load(ctx, TextKey); err != nil {
		logger.Warn("load system prompt failed", "err", err)
	} else if ok && len(raw) > 0 {
		p.text = string(raw)
	}
	if raw, ok, err := store.Load(ctx, EnabledKey); err != nil {
		logger.Warn("load system prompt flag failed", "err", err)
	} else if ok {
		p.enabled = string(raw) == "true"
	}
	return p
}

// Text returns the prompt text.
func (p *Preference) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Enabled reports whether the prompt is applied to outgoing messages.
func (p *Preference) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// SetText replaces the prompt text and saves it.
func (p *Preference) SetText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
	return p.save(ctx, TextKey, text)
}

// SetEnabled sets the flag and saves it.
func (p *Preference) SetEnabled(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	return p.save(ctx, EnabledKey, strconv.FormatBool(enabled))
}

// Toggle flips the flag, saves it and returns the new value.
func (p *Preference) Toggle(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = !p.enabled
	return p.enabled, p.save(ctx, EnabledKey, strconv.FormatBool(p.enabled))
}

// SelectPreset copies a preset into the prompt text. Unknown names change
// nothing and report false.
func (p *Preference) SelectPreset(ctx context.Context, name string) (bool, error) {
	text, ok := presets[name]
	if !ok {
		return false, nil
	}
	return true, p.SetText(ctx, text)
}

// Messages returns the system message to prepend, or nil when the prompt is
// disabled or blank.
func (p *Preference) Messages() []domain.ChatMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled || p.text == "" {
		return nil
	}
	return []domain.ChatMessage{{Role: domain.RoleSystem, Content: p.text}}
}

func (p *Preference) save(ctx context.Context, key, value string) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Save(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
