package skillcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"leon/internal/domain"
)

// LangInfo describes one supported locale: its short code (used in skill
// config file names) and the language's fallback table.
type LangInfo struct {
	Short     string            `json:"short"`
	Fallbacks []domain.Fallback `json:"fallbacks,omitempty"`
}

// LoadLangs reads {dataRoot}/langs.json, the table of supported locales.
func LoadLangs(dataRoot string) (map[string]LangInfo, error) {
	path := filepath.Join(dataRoot, "langs.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language table %s: %w", path, err)
	}
	langs := map[string]LangInfo{}
	if err := json.Unmarshal(raw, &langs); err != nil {
		return nil, fmt.Errorf("parse language table %s: %w", path, err)
	}
	if len(langs) == 0 {
		return nil, fmt.Errorf("language table %s is empty", path)
	}
	return langs, nil
}
