package skillcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GlobalResolver is a shared resolver definition loaded from
// {dataRoot}/{lang}/global-resolvers/{name}.json.
type GlobalResolver struct {
	Intents map[string]ResolverIntent `json:"intents"`
}

func LoadGlobalResolver(dataRoot, lang, name string) (GlobalResolver, error) {
	path := filepath.Join(dataRoot, lang, "global-resolvers", name+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return GlobalResolver{}, fmt.Errorf("read global resolver %s: %w", path, err)
	}
	var resolver GlobalResolver
	if err := json.Unmarshal(raw, &resolver); err != nil {
		return GlobalResolver{}, fmt.Errorf("parse global resolver %s: %w", path, err)
	}
	return resolver, nil
}
