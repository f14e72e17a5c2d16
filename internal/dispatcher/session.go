package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"leon/internal/classifier"
	"leon/internal/conversation"
	"leon/internal/domain"
	"leon/internal/fallback"
	"leon/internal/ner"
	"leon/internal/skillcfg"
)

// ErrModelsNotReady rejects turns until every classifier model is loaded.
var ErrModelsNotReady = errors.New("nlp models are not ready")

// Executor is the brain surface the dispatcher drives.
type Executor interface {
	Execute(ctx context.Context, nlu domain.NLUResult) (domain.ExecResult, error)
	Talk(ctx context.Context, phrase string, keepTyping bool) error
	Wernicke(key, subkey string, vars map[string]string) string
	SetLang(lang string)
}

// EventPublisher streams typing indicators and suggestions to the end user.
type EventPublisher interface {
	PublishTyping(ctx context.Context, sessionID string, typing bool) error
	PublishSuggest(ctx context.Context, sessionID string, suggestions []string) error
}

// EntityGateway is the NER surface (C2).
type EntityGateway interface {
	MergeSpacyEntities(ctx context.Context, lang, utterance string) error
	ExtractEntities(ctx context.Context, lang, configPath, utterance string) ([]domain.Entity, error)
}

// ModelSet exposes the three loaded classifier models (C1).
type ModelSet interface {
	IsReady() bool
	Main() classifier.Classifier
	GlobalResolvers() classifier.Classifier
	SkillsResolvers() classifier.Classifier
}

// LanguageSwitcher recycles the tokenization service for a new locale (C7).
type LanguageSwitcher interface {
	Switch(ctx context.Context, utterance, locale string, redispatch func(utterance string)) error
}

// Journal is the optional classification audit log.
type Journal interface {
	RecordUtterance(ctx context.Context, sessionID, lang, utterance string, c domain.Classification) error
}

// Telemetry is the optional anonymous expression reporter.
type Telemetry interface {
	SendExpression(ctx context.Context, utterance, lang string, c domain.Classification)
}

type Config struct {
	SessionID string
	Lang      string

	SkillsRoot string
	DataRoot   string

	// ContextScoreThreshold gates the context-biased re-pick.
	ContextScoreThreshold float64

	// MuteNERErrors suppresses spoken NER error phrases; they still log.
	MuteNERErrors bool
}

// Session owns every piece of mutable per-conversation state and wires the
// decision pipeline together. One logical turn at a time: Process serializes
// on the session mutex, and internal re-dispatch runs as a trampoline inside
// the same turn instead of recursing.
type Session struct {
	mu sync.Mutex

	cfg      Config
	lang     string
	langs    map[string]skillcfg.LangInfo
	models   ModelSet
	ner      EntityGateway
	conv     *conversation.Store
	brain    Executor
	events   EventPublisher
	skills   *skillcfg.Registry
	switcher LanguageSwitcher
	journal  Journal
	telem    Telemetry
	logger   *slog.Logger
}

type Collaborators struct {
	Models   ModelSet
	NER      EntityGateway
	Conv     *conversation.Store
	Brain    Executor
	Events   EventPublisher
	Skills   *skillcfg.Registry
	Switcher LanguageSwitcher
	Journal  Journal
	Telem    Telemetry
}

func NewSession(cfg Config, langs map[string]skillcfg.LangInfo, c Collaborators, logger *slog.Logger) *Session {
	if cfg.ContextScoreThreshold <= 0 {
		cfg.ContextScoreThreshold = 0.6
	}
	return &Session{
		cfg:      cfg,
		lang:     cfg.Lang,
		langs:    langs,
		models:   c.Models,
		ner:      c.NER,
		conv:     c.Conv,
		brain:    c.Brain,
		events:   c.Events,
		skills:   c.Skills,
		switcher: c.Switcher,
		journal:  c.Journal,
		telem:    c.Telem,
		logger:   logger,
	}
}

// Lang returns the session's current locale.
func (s *Session) Lang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// ContextSummary describes the active context for the status surface.
func (s *Session) ContextSummary() (name string, inLoop bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac := s.conv.ActiveContext()
	if ac == nil {
		return "", false, false
	}
	return ac.Name, ac.IsInActionLoop, true
}

// redispatch asks the trampoline to run another turn with a new utterance.
type redispatch struct {
	utterance string
}

// Process runs one user utterance through the decision pipeline and returns
// the NLU outcome. Concurrent calls on the same session serialize.
func (s *Session) Process(ctx context.Context, utterance string) (domain.ProcessOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.events.PublishTyping(ctx, s.cfg.SessionID, true); err != nil {
		s.logger.Warn("publish typing indicator failed", "error", err)
	}

	current := utterance
	for {
		outcome, next, err := s.turn(ctx, current, start)
		if err != nil || next == nil {
			s.logger.Info("turn done",
				"utterance", current,
				"processing_ms", outcome.ProcessingTimeMS,
				"nlu_ms", outcome.NLUProcessingTimeMS,
				"message", outcome.Message,
			)
			return outcome, err
		}
		current = next.utterance
	}
}

// HandleUtterance adapts inbound hub utterances onto Process. The core is
// single-session; the publisher session id is logged for traceability only.
func (s *Session) HandleUtterance(ctx context.Context, sessionID, text string) {
	if _, err := s.Process(ctx, text); err != nil {
		s.logger.Error("process utterance failed", "session_id", sessionID, "error", err)
	}
}

// Redispatch re-enters Process once; the language switcher installs it as
// the tokenizer connected listener.
func (s *Session) Redispatch(utterance string) {
	if _, err := s.Process(context.Background(), utterance); err != nil {
		s.logger.Error("redispatch failed", "utterance", utterance, "error", err)
	}
}

func (s *Session) turn(ctx context.Context, utterance string, start time.Time) (domain.ProcessOutcome, *redispatch, error) {
	if !s.models.IsReady() {
		s.logger.Error("nlp models missing or not loaded, training required")
		s.talkWernicke(ctx, "random_errors")
		return s.empty(start), nil, ErrModelsNotReady
	}

	if err := s.ner.MergeSpacyEntities(ctx, s.lang, utterance); err != nil {
		s.logger.Warn("merge spacy entities failed", "error", err)
	}

	if ac := s.conv.ActiveContext(); ac != nil {
		if ac.IsInActionLoop {
			return s.handleActionLoop(ctx, utterance, start)
		}
		if len(ac.Slots) > 0 {
			return s.handleSlotFilling(ctx, utterance, start)
		}
	}

	result, err := s.models.Main().Process(ctx, s.lang, utterance)
	if err != nil {
		s.talkWernicke(ctx, "random_errors")
		return s.empty(start), nil, fmt.Errorf("classify utterance: %w", err)
	}

	intent, score, intentDomain := result.Intent, result.Score, result.Domain

	// Context-biased re-pick: a good-enough alternate that stays on the
	// active context's topic beats the raw top classification.
	if ac := s.conv.ActiveContext(); ac != nil {
		for _, cand := range result.Classifications {
			if cand.Score <= s.cfg.ContextScoreThreshold {
				continue
			}
			candDomain, domainErr := s.models.Main().IntentDomain(s.lang, cand.Intent)
			if domainErr != nil {
				continue
			}
			if candDomain+"."+skillOf(cand.Intent) == ac.Name {
				intent, score, intentDomain = cand.Intent, cand.Score, candDomain
				break
			}
		}
	}

	locale := result.Locale
	if locale == "" {
		locale = s.lang
	}
	if _, supported := s.langs[locale]; !supported {
		s.logger.Warn("unsupported locale", "locale", locale)
		s.talkWernicke(ctx, "random_language_not_supported")
		return s.empty(start), nil, nil
	}
	if locale != s.lang {
		s.logger.Info("language switch", "from", s.lang, "to", locale)
		s.lang = locale
		s.brain.SetLang(locale)
		s.conv.CleanActiveContext()
		if err := s.switcher.Switch(ctx, utterance, locale, s.Redispatch); err != nil {
			s.logger.Error("language switch failed", "locale", locale, "error", err)
		}
		return s.empty(start), nil, nil
	}

	var nluResult *domain.NLUResult
	if intent == "" || intent == classifier.NoneIntent {
		fb, ok := fallback.Match(utterance, s.langs[s.lang].Fallbacks)
		if !ok {
			s.logger.Info("intent not found", "utterance", utterance)
			s.talkWernicke(ctx, "random_unknown_intents")
			return domain.ProcessOutcome{Message: "Intent not found", ProcessingTimeMS: msSince(start)}, nil, nil
		}
		nluResult = fb
		intent = fb.Classification.Skill + "." + fb.Classification.Action
		intentDomain = fb.Classification.Domain
		score = fb.Classification.Confidence
	} else {
		skillName, actionName := splitIntent(intent)
		nluResult = &domain.NLUResult{
			Utterance: utterance,
			Answers:   result.Answers,
			Classification: domain.Classification{
				Domain:     intentDomain,
				Skill:      skillName,
				Action:     actionName,
				Confidence: score,
			},
		}
	}

	s.logger.Info("intent found", "intent", intent, "domain", intentDomain, "confidence", score)
	s.record(ctx, utterance, nluResult.Classification)

	nluResult.ConfigDataFilePath = skillcfg.ConfigPath(
		s.cfg.SkillsRoot, intentDomain, nluResult.Classification.Skill, s.shortLang())

	entities, err := s.ner.ExtractEntities(ctx, s.lang, nluResult.ConfigDataFilePath, utterance)
	if err != nil {
		s.handleNERError(ctx, err)
	}
	nluResult.CurrentEntities = entities
	nluResult.Entities = entities

	if s.routeSlotFilling(ctx, intent, nluResult) {
		return s.empty(start), nil, nil
	}
	if ac := s.conv.ActiveContext(); ac != nil && len(ac.Slots) > 0 {
		return s.handleSlotFilling(ctx, utterance, start)
	}

	// Normal path.
	contextName := intentDomain + "." + nluResult.Classification.Skill
	if ac := s.conv.ActiveContext(); ac != nil && ac.Name != contextName {
		s.conv.CleanActiveContext()
	}
	s.conv.SetActiveContext(domain.ActiveContext{
		Name:               contextName,
		Lang:               s.lang,
		Intent:             intent,
		Domain:             intentDomain,
		ActionName:         nluResult.Classification.Action,
		OriginalUtterance:  utterance,
		ConfigDataFilePath: nluResult.ConfigDataFilePath,
		CurrentEntities:    entities,
	})
	if ac := s.conv.ActiveContext(); ac != nil {
		nluResult.CurrentEntities = ac.CurrentEntities
		nluResult.Entities = ac.Entities
	}

	processed, err := s.brain.Execute(ctx, *nluResult)
	if err != nil {
		return s.empty(start), nil, err
	}
	if next := nextActionOf(processed); next != nil {
		s.rotateContext(nluResult.Classification.Skill, next)
	}

	total := msSince(start)
	return domain.ProcessOutcome{
		Result:              nluResult,
		ProcessingTimeMS:    total,
		NLUProcessingTimeMS: total - processed.ExecutionTimeMS,
	}, nil, nil
}

// rotateContext moves the active context onto the action the brain chained.
func (s *Session) rotateContext(skillName string, next *domain.NextAction) {
	ac := s.conv.ActiveContext()
	if ac == nil {
		return
	}
	ac.Intent = skillName + "." + next.Name
	ac.ActionName = next.Name
	ac.IsInActionLoop = next.Loop
	ac.NextAction = next
	s.logger.Info("context rotated to next action", "intent", ac.Intent, "loop", next.Loop)
}

func (s *Session) record(ctx context.Context, utterance string, c domain.Classification) {
	if s.telem != nil {
		go s.telem.SendExpression(context.Background(), utterance, s.lang, c)
	}
	if s.journal != nil {
		if err := s.journal.RecordUtterance(ctx, s.cfg.SessionID, s.lang, utterance, c); err != nil {
			s.logger.Warn("journal utterance failed", "error", err)
		}
	}
}

func (s *Session) handleNERError(ctx context.Context, err error) {
	var nerErr *ner.Error
	if !errors.As(err, &nerErr) {
		s.logger.Error("ner failed", "error", err)
		return
	}
	if nerErr.Kind == ner.KindWarning {
		s.logger.Warn("ner failed", "code", nerErr.Code, "error", err)
	} else {
		s.logger.Error("ner failed", "code", nerErr.Code, "error", err)
	}
	if !s.cfg.MuteNERErrors {
		if talkErr := s.brain.Talk(ctx, s.brain.Wernicke("errors", nerErr.Code, nerErr.Data), true); talkErr != nil {
			s.logger.Warn("speak ner error failed", "error", talkErr)
		}
	}
}

func (s *Session) talkWernicke(ctx context.Context, key string) {
	if err := s.brain.Talk(ctx, s.brain.Wernicke(key, "", nil), false); err != nil {
		s.logger.Warn("talk failed", "key", key, "error", err)
	}
}

func (s *Session) shortLang() string {
	if info, ok := s.langs[s.lang]; ok && info.Short != "" {
		return info.Short
	}
	return s.lang
}

func (s *Session) empty(start time.Time) domain.ProcessOutcome {
	return domain.ProcessOutcome{ProcessingTimeMS: msSince(start)}
}

func msSince(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return ms
}

func splitIntent(intent string) (skill, action string) {
	parts := strings.SplitN(intent, ".", 2)
	if len(parts) != 2 {
		return intent, ""
	}
	return parts[0], parts[1]
}

func skillOf(intent string) string {
	skill, _ := splitIntent(intent)
	return skill
}

func nextActionOf(processed domain.ExecResult) *domain.NextAction {
	if processed.NextAction != nil {
		return processed.NextAction
	}
	if processed.Action.NextAction != "" {
		return &domain.NextAction{Name: processed.Action.NextAction, Loop: processed.Action.Loop}
	}
	return nil
}

func pickQuestion(questions []string) string {
	if len(questions) == 0 {
		return ""
	}
	return questions[rand.Intn(len(questions))]
}
