package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"leon/internal/brain"
	"leon/internal/classifier"
	"leon/internal/config"
	"leon/internal/conversation"
	"leon/internal/dispatcher"
	"leon/internal/hub"
	"leon/internal/journal"
	"leon/internal/language"
	"leon/internal/ner"
	"leon/internal/skillcfg"
	"leon/internal/telemetry"
	"leon/internal/tokenizer"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	langs, err := skillcfg.LoadLangs(cfg.DataRoot)
	if err != nil {
		logger.Error("load language table failed", "error", err)
		os.Exit(1)
	}
	if _, ok := langs[cfg.Lang]; !ok {
		logger.Error("configured language is not in the language table", "lang", cfg.Lang)
		os.Exit(1)
	}

	var journalStore *journal.Store
	if cfg.DBDSN != "" {
		journalStore, err = journal.New(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("connect db failed", "error", err)
			os.Exit(1)
		}
		defer journalStore.Close()
		if err := journalStore.Migrate(ctx); err != nil {
			logger.Error("migrate db failed", "error", err)
			os.Exit(1)
		}
	}

	tokProc := tokenizer.NewProcess(cfg.TokenizerBin, logger)
	if err := tokProc.Spawn(cfg.Lang); err != nil {
		logger.Warn("tokenizer spawn failed, spacy entities disabled until language switch", "error", err)
	}
	defer func() {
		if err := tokProc.KillTree(); err != nil {
			logger.Warn("tokenizer teardown failed", "error", err)
		}
	}()

	tokClient := tokenizer.NewClient(cfg.TokenizerAddr, logger)
	go func() {
		if err := tokClient.Connect(ctx); err != nil {
			logger.Warn("tokenizer connect failed", "error", err)
		}
	}()
	defer tokClient.Close()

	loader := classifier.NewLoader(classifier.FileProvider{}, classifier.Paths{
		GlobalResolvers: filepath.Join(cfg.ModelsRoot, "leon-global-resolvers-model.nlp"),
		SkillsResolvers: filepath.Join(cfg.ModelsRoot, "leon-skills-resolvers-model.nlp"),
		Main:            filepath.Join(cfg.ModelsRoot, "leon-main-model.nlp"),
	}, ner.BuiltinEntities(), logger)
	go func() {
		if err := loader.LoadAll(ctx); err != nil {
			logger.Error("nlp model load failed, turns are rejected until retrain", "error", err)
		}
	}()

	gateway := ner.New(loader, tokClient, logger)

	mqttHub := hub.New(hub.Config{
		BrokerURL:   cfg.MQTTBrokerURL,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
	}, logger)
	if err := mqttHub.Start(ctx); err != nil {
		logger.Error("start mqtt hub failed", "error", err)
		os.Exit(1)
	}

	answers := brain.NewAnswerStore(cfg.DataRoot)
	executor := brain.New(brain.Config{
		SessionID:   cfg.SessionID,
		Lang:        cfg.Lang,
		ExecTimeout: cfg.ExecTimeout,
	}, mqttHub, mqttHub, answers, logger)

	switcher := language.New(tokProc, tokClient, executor, logger)

	collaborators := dispatcher.Collaborators{
		Models:   loader,
		NER:      gateway,
		Conv:     conversation.New(logger),
		Brain:    executor,
		Events:   mqttHub,
		Skills:   skillcfg.NewRegistry(logger),
		Switcher: switcher,
	}
	if journalStore != nil {
		collaborators.Journal = journalStore
	}
	if telem := telemetry.New(cfg.TelemetryBaseURL, cfg.Version, cfg.TelemetryEnabled, 5*time.Second, logger); telem.Enabled() {
		collaborators.Telem = telem
	}

	session := dispatcher.NewSession(dispatcher.Config{
		SessionID:             cfg.SessionID,
		Lang:                  cfg.Lang,
		SkillsRoot:            cfg.SkillsRoot,
		DataRoot:              cfg.DataRoot,
		ContextScoreThreshold: cfg.ContextScoreThreshold,
		MuteNERErrors:         cfg.MuteNERErrors,
	}, langs, collaborators, logger)
	mqttHub.SetHandler(session)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		status := map[string]any{
			"models_ready": loader.IsReady(),
			"lang":         session.Lang(),
		}
		if name, inLoop, ok := session.ContextSummary(); ok {
			status["active_context"] = map[string]any{"name": name, "in_action_loop": inLoop}
		}
		writeJSON(w, http.StatusOK, status)
	})
	r.Post("/v1/utterances", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
			return
		}

		outcome, err := session.Process(req.Context(), body.Text)
		if err != nil {
			if errors.Is(err, dispatcher.ErrModelsNotReady) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
				return
			}
			logger.Error("process failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})
	r.Get("/v1/history", func(w http.ResponseWriter, req *http.Request) {
		if journalStore == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "utterance journal is disabled, set DB_DSN"})
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		records, err := journalStore.RecentUtterances(req.Context(), limit)
		if err != nil {
			logger.Error("read history failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"utterances": records})
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("leon server started", "addr", cfg.HTTPAddr, "lang", cfg.Lang)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
