package ner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"leon/internal/classifier"
	"leon/internal/domain"
)

// Error kinds, matched to the log channel the caller should use.
const (
	KindWarning = "warning"
	KindError   = "error"
)

// Error carries a NER failure with the spoken-error code and context data
// the caller needs to pick the right channel.
type Error struct {
	Kind string
	Code string
	Data map[string]string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ner %s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("ner %s (%s)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// SpacySource provides auxiliary entities from the external tokenization
// service.
type SpacySource interface {
	GetSpacyEntities(ctx context.Context, utterance string) ([]domain.Entity, error)
}

// MainModel is the subset of the main classifier the gateway drives.
type MainModel interface {
	Main() classifier.Classifier
}

// Gateway fronts the main classifier's NER and augments it with entities
// from the tokenization service.
type Gateway struct {
	models MainModel
	spacy  SpacySource
	logger *slog.Logger

	mu     sync.Mutex
	merged map[string]struct{}
}

func New(models MainModel, spacy SpacySource, logger *slog.Logger) *Gateway {
	return &Gateway{
		models: models,
		spacy:  spacy,
		logger: logger,
		merged: map[string]struct{}{},
	}
}

// BuiltinEntities is the static inventory of built-in entity names the main
// classifier activates at load time.
func BuiltinEntities() []string {
	return []string{
		"age", "currency", "date", "dimension", "duration", "email",
		"hashtag", "number", "ordinal", "percentage", "phonenumber",
		"time", "url",
	}
}

// ExtractEntities runs the main model's NER over the utterance and returns
// its entities. The skill config path is passed through to the model; the
// gateway reads no entity definitions from the config itself. Failures come
// back as *Error so the caller can route them to the right log channel and
// spoken error code.
func (g *Gateway) ExtractEntities(ctx context.Context, lang, configPath, utterance string) ([]domain.Entity, error) {
	main := g.models.Main()
	if main == nil {
		return nil, &Error{Kind: KindError, Code: "nlu", Data: map[string]string{"lang": lang}}
	}

	entities, err := main.ExtractEntities(ctx, lang, utterance, configPath)
	if err != nil {
		return entities, &Error{
			Kind: KindError,
			Code: "nlu",
			Data: map[string]string{"lang": lang, "config": configPath},
			Err:  err,
		}
	}
	return entities, nil
}

// MergeSpacyEntities asks the tokenization service for auxiliary entities
// and registers each resolved value as a synonym on the main classifier, so
// proper nouns the model was never trained on still classify. Idempotent per
// (entity, value) pair.
func (g *Gateway) MergeSpacyEntities(ctx context.Context, lang, utterance string) error {
	if g.spacy == nil {
		return nil
	}
	entities, err := g.spacy.GetSpacyEntities(ctx, utterance)
	if err != nil {
		return &Error{Kind: KindWarning, Code: "spacy", Data: map[string]string{"lang": lang}, Err: err}
	}

	main := g.models.Main()
	if main == nil {
		return nil
	}

	for _, entity := range entities {
		if entity.Resolution == nil || entity.Resolution.Value == "" {
			continue
		}
		value := entity.Resolution.Value
		key := entity.Entity + "\x00" + value

		g.mu.Lock()
		_, seen := g.merged[key]
		if !seen {
			g.merged[key] = struct{}{}
		}
		g.mu.Unlock()
		if seen {
			continue
		}

		if err := main.RegisterSynonym(lang, entity.Entity, value, []string{titlecase(value)}); err != nil {
			g.logger.Warn("register spacy synonym failed", "entity", entity.Entity, "value", value, "error", err)
		}
	}
	return nil
}

func titlecase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
