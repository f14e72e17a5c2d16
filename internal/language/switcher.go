package language

import (
	"context"
	"log/slog"
)

// Speaker is the spoken-output surface the switcher announces through.
type Speaker interface {
	Talk(ctx context.Context, phrase string, keepTyping bool) error
	Wernicke(key, subkey string, vars map[string]string) string
}

// TokenizerProcess is the external tokenization child process lifecycle.
type TokenizerProcess interface {
	Spawn(locale string) error
	KillTree() error
	Pid() int
}

// TokenizerClient is the socket client that reaches the tokenization
// service.
type TokenizerClient interface {
	Connect(ctx context.Context) error
	OnConnected(fn func())
}

// Switcher recycles the tokenization service for a new locale and re-enters
// dispatch once the fresh service accepts connections.
type Switcher struct {
	proc    TokenizerProcess
	client  TokenizerClient
	speaker Speaker
	logger  *slog.Logger
}

func New(proc TokenizerProcess, client TokenizerClient, speaker Speaker, logger *slog.Logger) *Switcher {
	return &Switcher{
		proc:    proc,
		client:  client,
		speaker: speaker,
		logger:  logger,
	}
}

// Switch announces the language change, replaces the tokenization process
// tree and reconnects. Fire-and-forget by design: the redispatch happens
// asynchronously in the connected listener, exactly once; if the child never
// comes up the user simply retries.
func (s *Switcher) Switch(ctx context.Context, utterance, locale string, redispatch func(utterance string)) error {
	if err := s.speaker.Talk(ctx, s.speaker.Wernicke("random_language_switch", "", nil), true); err != nil {
		s.logger.Warn("announce language switch failed", "error", err)
	}

	oldPid := s.proc.Pid()
	if err := s.proc.KillTree(); err != nil {
		s.logger.Error("kill tokenizer process tree failed", "pid", oldPid, "error", err)
		return err
	}
	if err := s.proc.Spawn(locale); err != nil {
		s.logger.Error("spawn tokenizer failed", "locale", locale, "error", err)
		return err
	}
	s.logger.Info("tokenizer recycled", "old_pid", oldPid, "new_pid", s.proc.Pid(), "locale", locale)

	s.client.OnConnected(func() {
		redispatch(utterance)
	})
	go func() {
		if err := s.client.Connect(context.Background()); err != nil {
			s.logger.Error("tokenizer reconnect failed", "locale", locale, "error", err)
		}
	}()
	return nil
}
