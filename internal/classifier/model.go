package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"leon/internal/domain"
)

// Model is the embedded inference runtime behind the Classifier capability.
// A compiled model file carries, per intent, the corpus of sample utterances
// it was trained on plus its domain, dialog answers and mandatory slots, and
// a lexicon of named entities. Classification scores an utterance by token
// overlap against each intent corpus, the way a retrieval classifier ranks
// corpus entries.
type Model struct {
	locale  string
	intents map[string]modelIntent
	markers map[string][]string

	mu       sync.RWMutex
	lexicon  map[string]map[string][]string // lang -> entity -> surface forms
	builtins map[string]struct{}
	spell    bool
}

type modelIntent struct {
	Domain     string     `json:"domain"`
	Utterances []string   `json:"utterances"`
	Answers    []string   `json:"answers,omitempty"`
	Slots      []SlotSpec `json:"slots,omitempty"`
}

type modelFile struct {
	Locale        string                         `json:"locale"`
	Intents       map[string]modelIntent         `json:"intents"`
	Entities      map[string]map[string][]string `json:"entities,omitempty"` // entity -> value -> surfaces
	LocaleMarkers map[string][]string            `json:"localeMarkers,omitempty"`
}

// NoneIntent is the label the classifier emits when nothing scores above
// the acceptance threshold.
const NoneIntent = "None"

const acceptThreshold = 0.5

// FileProvider loads Model classifiers from compiled .nlp files.
type FileProvider struct{}

func (FileProvider) Load(path string) (Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file modelFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}
	if file.Locale == "" {
		return nil, fmt.Errorf("model file has no locale")
	}

	m := &Model{
		locale:   file.Locale,
		intents:  file.Intents,
		markers:  file.LocaleMarkers,
		lexicon:  map[string]map[string][]string{},
		builtins: map[string]struct{}{},
	}
	lex := map[string][]string{}
	for entity, values := range file.Entities {
		for value, surfaces := range values {
			lex[entity+"\x00"+value] = surfaces
		}
	}
	m.lexicon[file.Locale] = lex
	return m, nil
}

func (m *Model) Process(_ context.Context, _ string, utterance string) (Result, error) {
	tokens := Tokenize(utterance)
	result := Result{
		Locale:    m.detectLocale(tokens),
		Utterance: utterance,
		Intent:    NoneIntent,
	}

	candidates := make([]Candidate, 0, len(m.intents))
	for name, intent := range m.intents {
		score := m.scoreIntent(tokens, intent)
		if score > 0 {
			candidates = append(candidates, Candidate{Intent: name, Score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	result.Classifications = candidates

	if len(candidates) > 0 && candidates[0].Score >= acceptThreshold {
		top := candidates[0]
		result.Intent = top.Intent
		result.Score = top.Score
		result.Domain = m.intents[top.Intent].Domain
		result.Answers = append([]string{}, m.intents[top.Intent].Answers...)
	}
	return result, nil
}

func (m *Model) scoreIntent(tokens []string, intent modelIntent) float64 {
	best := 0.0
	for _, sample := range intent.Utterances {
		sampleTokens := Tokenize(sample)
		if len(sampleTokens) == 0 {
			continue
		}
		matched := 0
		for _, st := range sampleTokens {
			for _, t := range tokens {
				if st == t || (m.spellCheckEnabled() && editDistanceOne(st, t)) {
					matched++
					break
				}
			}
		}
		union := len(sampleTokens) + len(tokens) - matched
		if union == 0 {
			continue
		}
		if score := float64(matched) / float64(union); score > best {
			best = score
		}
	}
	return best
}

func (m *Model) detectLocale(tokens []string) string {
	for locale, markers := range m.markers {
		for _, marker := range markers {
			for _, t := range tokens {
				if t == strings.ToLower(marker) {
					return locale
				}
			}
		}
	}
	return m.locale
}

// RegisterSynonym adds surface forms for an entity value. Append-only;
// registering the same pair twice leaves the lexicon unchanged.
func (m *Model) RegisterSynonym(lang, entity, value string, surfaces []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lex, ok := m.lexicon[lang]
	if !ok {
		lex = map[string][]string{}
		m.lexicon[lang] = lex
	}
	key := entity + "\x00" + value
	existing := lex[key]
	for _, surface := range surfaces {
		found := false
		for _, have := range existing {
			if strings.EqualFold(have, surface) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, surface)
		}
	}
	lex[key] = existing
	return nil
}

func (m *Model) IntentDomain(_ string, intent string) (string, error) {
	spec, ok := m.intents[intent]
	if !ok {
		return "", fmt.Errorf("unknown intent %q", intent)
	}
	return spec.Domain, nil
}

func (m *Model) MandatorySlots(intent string) []SlotSpec {
	spec, ok := m.intents[intent]
	if !ok {
		return nil
	}
	return append([]SlotSpec{}, spec.Slots...)
}

// ExtractEntities scans the utterance against the lexicon for lang (the model
// file's entities plus synonyms registered at runtime) and, when "number" is
// among the activated builtins, extracts digit runs as number entities; no
// other builtin name is extracted. The skill config path is accepted but not
// read, so skill-specific entity definitions are not merged in.
func (m *Model) ExtractEntities(_ context.Context, lang, utterance, _ string) ([]domain.Entity, error) {
	m.mu.RLock()
	lex := m.lexicon[lang]
	if lex == nil {
		lex = m.lexicon[m.locale]
	}
	m.mu.RUnlock()

	lower := strings.ToLower(utterance)
	entities := make([]domain.Entity, 0, 4)
	for key, surfaces := range lex {
		parts := strings.SplitN(key, "\x00", 2)
		name, value := parts[0], parts[1]
		for _, surface := range surfaces {
			idx := strings.Index(lower, strings.ToLower(surface))
			if idx < 0 {
				continue
			}
			entities = append(entities, domain.Entity{
				Entity:     name,
				SourceText: utterance[idx : idx+len(surface)],
				Start:      idx,
				End:        idx + len(surface),
				Resolution: &domain.Resolution{Value: value},
			})
			break
		}
	}

	if m.builtinActive("number") {
		entities = append(entities, extractNumbers(utterance)...)
	}

	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })
	return entities, nil
}

func (m *Model) builtinActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.builtins[name]
	return ok
}

func (m *Model) SetSpellCheck(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spell = enabled
}

func (m *Model) spellCheckEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spell
}

func (m *Model) ActivateBuiltinEntities(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.builtins[name] = struct{}{}
	}
}

func extractNumbers(utterance string) []domain.Entity {
	entities := []domain.Entity{}
	runes := []rune(utterance)
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		text := string(runes[i:j])
		entities = append(entities, domain.Entity{
			Entity:     "number",
			SourceText: text,
			Start:      i,
			End:        j,
			Resolution: &domain.Resolution{Value: text},
		})
		i = j
	}
	return entities
}

// Tokenize lowercases and splits on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func editDistanceOne(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la > lb {
		a, b, la, lb = b, a, lb, la
	}
	if lb-la > 1 {
		return false
	}
	// single substitution, insertion or deletion
	i, j, diff := 0, 0, 0
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		diff++
		if diff > 1 {
			return false
		}
		if la == lb {
			i++
		}
		j++
	}
	return true
}
