package skillcfg

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const shoppingConfig = `{
	"actions": {
		"addItem": {
			"type": "logic",
			"slots": [{"name": "item", "expectedEntity": "product", "questions": ["Which product?"], "suggestions": ["milk"]}]
		},
		"collect": {
			"type": "dialog",
			"loop": {"expected_item": {"name": "answer", "type": "global_resolver"}},
			"next_action": "review"
		}
	},
	"resolvers": {
		"list_mode": {"intents": {"everything": {"value": "all"}}}
	}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "en.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRegistryLoad(t *testing.T) {
	registry := NewRegistry(discardLogger())
	path := writeConfig(t, shoppingConfig)

	cfg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	add, ok := cfg.Actions["addItem"]
	if !ok || len(add.Slots) != 1 || add.Slots[0].ExpectedEntity != "product" {
		t.Fatalf("unexpected addItem action: %+v", add)
	}
	collect := cfg.Actions["collect"]
	if collect.Loop == nil || collect.Loop.ExpectedItem.Type != "global_resolver" {
		t.Fatalf("unexpected loop config: %+v", collect.Loop)
	}
	if collect.NextAction != "review" {
		t.Fatalf("unexpected next action: %q", collect.NextAction)
	}
	if cfg.Resolvers["list_mode"].Intents["everything"].Value != "all" {
		t.Fatalf("unexpected resolvers: %+v", cfg.Resolvers)
	}
}

func TestRegistryCachesByPath(t *testing.T) {
	registry := NewRegistry(discardLogger())
	path := writeConfig(t, shoppingConfig)

	if _, err := registry.Load(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}
	// Second load is served from cache even though the file is gone.
	if _, err := registry.Load(path); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
}

func TestRegistryLoadErrors(t *testing.T) {
	registry := NewRegistry(discardLogger())

	if _, err := registry.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing config must error")
	}
	if _, err := registry.Load(writeConfig(t, "{broken")); err == nil {
		t.Fatal("broken config must error")
	}
}

func TestConfigPath(t *testing.T) {
	got := ConfigPath("skills", "shopping", "list", "en")
	want := filepath.Join("skills", "shopping", "list", "config", "en.json")
	if got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
}

func TestLoadLangs(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"en-US": {"short": "en", "fallbacks": [{"words": ["hello", "leon"], "domain": "greetings", "skill": "hello", "action": "run"}]},
		"fr-FR": {"short": "fr"}
	}`
	if err := os.WriteFile(filepath.Join(dir, "langs.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write langs: %v", err)
	}

	langs, err := LoadLangs(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if langs["en-US"].Short != "en" || len(langs["en-US"].Fallbacks) != 1 {
		t.Fatalf("unexpected en-US entry: %+v", langs["en-US"])
	}
	if _, ok := langs["fr-FR"]; !ok {
		t.Fatal("fr-FR missing")
	}

	if _, err := LoadLangs(t.TempDir()); err == nil {
		t.Fatal("missing langs.json must error")
	}
}

func TestLoadGlobalResolver(t *testing.T) {
	dataRoot := t.TempDir()
	dir := filepath.Join(dataRoot, "en-US", "global-resolvers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"intents": {"affirmation": {"value": "affirmation"}, "denial": {"value": "denial"}}}`
	if err := os.WriteFile(filepath.Join(dir, "answer.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write resolver: %v", err)
	}

	resolver, err := LoadGlobalResolver(dataRoot, "en-US", "answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.Intents["denial"].Value != "denial" {
		t.Fatalf("unexpected resolver: %+v", resolver)
	}

	if _, err := LoadGlobalResolver(dataRoot, "en-US", "missing"); err == nil {
		t.Fatal("missing resolver must error")
	}
}
