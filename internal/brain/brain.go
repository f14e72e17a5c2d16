package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"leon/internal/domain"
)

// Publisher streams user-visible events to the end user.
type Publisher interface {
	PublishTyping(ctx context.Context, sessionID string, typing bool) error
	PublishAnswer(ctx context.Context, sessionID, text string) error
}

// Invoker carries an action invocation to the skill runtime and returns its
// correlated result.
type Invoker interface {
	InvokeAction(ctx context.Context, req domain.InvokeRequest) (domain.InvokeResult, error)
}

type Config struct {
	SessionID   string
	Lang        string
	ExecTimeout time.Duration
}

// Brain executes skill actions and speaks replies. The dispatcher owns the
// decision pipeline; the brain owns everything the user hears.
type Brain struct {
	sessionID   string
	execTimeout time.Duration
	publisher   Publisher
	invoker     Invoker
	answers     *AnswerStore
	logger      *slog.Logger

	mu   sync.RWMutex
	lang string
}

func New(cfg Config, publisher Publisher, invoker Invoker, answers *AnswerStore, logger *slog.Logger) *Brain {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 20 * time.Second
	}
	return &Brain{
		sessionID:   cfg.SessionID,
		execTimeout: cfg.ExecTimeout,
		publisher:   publisher,
		invoker:     invoker,
		answers:     answers,
		logger:      logger,
		lang:        cfg.Lang,
	}
}

func (b *Brain) Lang() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lang
}

func (b *Brain) SetLang(lang string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lang = lang
}

// Execute runs one skill action through the skill runtime. The runtime's
// spoken text is delivered to the user here; executor failures clear the
// typing indicator and come back wrapped.
func (b *Brain) Execute(ctx context.Context, nlu domain.NLUResult) (domain.ExecResult, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, b.execTimeout)
	defer cancel()

	start := time.Now()
	result, err := b.invoker.InvokeAction(invokeCtx, domain.InvokeRequest{
		RequestID: uuid.NewString(),
		NLU:       nlu,
		Lang:      b.Lang(),
	})
	if err != nil {
		if typingErr := b.publisher.PublishTyping(ctx, b.sessionID, false); typingErr != nil {
			b.logger.Warn("clear typing indicator failed", "error", typingErr)
		}
		return domain.ExecResult{}, fmt.Errorf("execute %s.%s.%s: %w",
			nlu.Classification.Domain, nlu.Classification.Skill, nlu.Classification.Action, err)
	}

	exec := result.Exec
	if exec.ExecutionTimeMS == 0 {
		exec.ExecutionTimeMS = time.Since(start).Milliseconds()
	}
	if exec.SpokenText != "" {
		if err := b.Talk(ctx, exec.SpokenText, false); err != nil {
			b.logger.Warn("speak action reply failed", "error", err)
		}
	}
	return exec, nil
}

// Talk speaks one phrase to the user. Unless keepTyping is set, the typing
// indicator is dropped afterwards so every terminal branch ends it exactly
// once.
func (b *Brain) Talk(ctx context.Context, phrase string, keepTyping bool) error {
	if phrase != "" {
		if err := b.publisher.PublishAnswer(ctx, b.sessionID, phrase); err != nil {
			return err
		}
	}
	if keepTyping {
		return nil
	}
	return b.publisher.PublishTyping(ctx, b.sessionID, false)
}

// Wernicke resolves a phrase template by key for the current language.
func (b *Brain) Wernicke(key, subkey string, vars map[string]string) string {
	return b.answers.Pick(b.Lang(), key, subkey, vars)
}
