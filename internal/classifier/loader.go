package classifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind names one of the three classifier models the core loads.
type Kind string

const (
	KindGlobalResolvers Kind = "global-resolvers"
	KindSkillsResolvers Kind = "skills-resolvers"
	KindMain            Kind = "main"
)

// Paths locates the compiled model files on disk.
type Paths struct {
	GlobalResolvers string
	SkillsResolvers string
	Main            string
}

// ModelMissingError reports a model file that has never been trained.
type ModelMissingError struct {
	Model Kind
	Path  string
}

func (e *ModelMissingError) Error() string {
	return fmt.Sprintf("%s model not found at %s, run %q to generate it", e.Model, e.Path, e.TrainCommand())
}

// TrainCommand is the operator command that produces the missing model.
func (e *ModelMissingError) TrainCommand() string {
	return fmt.Sprintf("leon-train %s", e.Model)
}

// ModelLoadError reports a model file that exists but could not be parsed.
type ModelLoadError struct {
	Model Kind
	Path  string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s model from %s: %v", e.Model, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Loader owns the three classifier models and their load lifecycle. LoadAll
// runs the three loads in parallel and joins; IsReady flips only once all
// three succeeded.
type Loader struct {
	provider Provider
	paths    Paths
	builtin  []string
	logger   *slog.Logger

	mu              sync.RWMutex
	globalResolvers Classifier
	skillsResolvers Classifier
	main            Classifier
}

func NewLoader(provider Provider, paths Paths, builtinEntities []string, logger *slog.Logger) *Loader {
	return &Loader{
		provider: provider,
		paths:    paths,
		builtin:  builtinEntities,
		logger:   logger,
	}
}

// LoadAll loads the global-resolvers, skills-resolvers and main models
// concurrently. Any failure is fatal for that model and surfaces here; the
// dispatcher keeps rejecting turns until a later LoadAll succeeds.
func (l *Loader) LoadAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	var globalResolvers, skillsResolvers, main Classifier
	g.Go(func() error {
		c, err := l.loadOne(KindGlobalResolvers, l.paths.GlobalResolvers)
		globalResolvers = c
		return err
	})
	g.Go(func() error {
		c, err := l.loadOne(KindSkillsResolvers, l.paths.SkillsResolvers)
		skillsResolvers = c
		return err
	})
	g.Go(func() error {
		c, err := l.loadOne(KindMain, l.paths.Main)
		if err == nil {
			c.ActivateBuiltinEntities(l.builtin)
		}
		main = c
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	l.mu.Lock()
	l.globalResolvers = globalResolvers
	l.skillsResolvers = skillsResolvers
	l.main = main
	l.mu.Unlock()

	l.logger.Info("nlp models loaded",
		"global_resolvers", l.paths.GlobalResolvers,
		"skills_resolvers", l.paths.SkillsResolvers,
		"main", l.paths.Main,
	)
	return nil
}

func (l *Loader) loadOne(kind Kind, path string) (Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			missing := &ModelMissingError{Model: kind, Path: path}
			l.logger.Warn("nlp model missing", "model", string(kind), "path", path, "train_command", missing.TrainCommand())
			return nil, missing
		}
		return nil, &ModelLoadError{Model: kind, Path: path, Err: err}
	}

	c, err := l.provider.Load(path)
	if err != nil {
		l.logger.Error("nlp model load failed", "model", string(kind), "path", path, "error", err)
		return nil, &ModelLoadError{Model: kind, Path: path, Err: err}
	}
	c.SetSpellCheck(true)
	return c, nil
}

// IsReady reports whether all three models loaded successfully.
func (l *Loader) IsReady() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.globalResolvers != nil && l.skillsResolvers != nil && l.main != nil
}

func (l *Loader) Main() Classifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.main
}

func (l *Loader) GlobalResolvers() Classifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.globalResolvers
}

func (l *Loader) SkillsResolvers() Classifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.skillsResolvers
}
