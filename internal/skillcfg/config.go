package skillcfg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// SlotConfig declares one slot an action requires.
type SlotConfig struct {
	Name           string   `json:"name"`
	ExpectedEntity string   `json:"expectedEntity"`
	PickedQuestion string   `json:"pickedQuestion,omitempty"`
	Questions      []string `json:"questions,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// ExpectedItem is what an action loop waits for on every turn.
type ExpectedItem struct {
	Name string `json:"name"`
	Type string `json:"type"` // "entity", "global_resolver" or "skill_resolver"
}

type LoopConfig struct {
	ExpectedItem ExpectedItem `json:"expected_item"`
}

type ActionConfig struct {
	Type       string       `json:"type,omitempty"`
	Slots      []SlotConfig `json:"slots,omitempty"`
	Loop       *LoopConfig  `json:"loop,omitempty"`
	NextAction string       `json:"next_action,omitempty"`
}

type ResolverIntent struct {
	Value string `json:"value"`
}

type ResolverConfig struct {
	Intents map[string]ResolverIntent `json:"intents"`
}

// Config is one skill's per-language configuration file.
type Config struct {
	Actions   map[string]ActionConfig   `json:"actions"`
	Resolvers map[string]ResolverConfig `json:"resolvers,omitempty"`
}

// ConfigPath builds the per-language config path of a skill.
func ConfigPath(skillsRoot, domain, skill, lang string) string {
	return filepath.Join(skillsRoot, domain, skill, "config", lang+".json")
}

// Registry loads skill config files and caches them by path.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]Config
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		cache:  make(map[string]Config),
	}
}

func (r *Registry) Load(path string) (Config, error) {
	r.mu.RLock()
	cached, ok := r.cache[path]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read skill config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse skill config %s: %w", path, err)
	}

	r.mu.Lock()
	r.cache[path] = cfg
	r.mu.Unlock()
	r.logger.Info("skill config loaded", "path", path, "actions", len(cfg.Actions))
	return cfg, nil
}
