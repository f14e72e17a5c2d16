package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"leon/internal/config"
	"leon/internal/domain"
)

// leon-tty is a small debug console: it reads utterances from stdin, posts
// them to the leon server and prints what the core understood.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.LoadTTYConfig()
	client := &http.Client{Timeout: 60 * time.Second}

	fmt.Printf("leon tty connected to %s (session %s), ctrl-d to quit\n", cfg.ServerBaseURL, cfg.SessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		outcome, err := postUtterance(client, cfg.ServerBaseURL, text)
		if err != nil {
			logger.Error("request failed", "error", err)
			continue
		}
		printOutcome(outcome)
	}
}

func postUtterance(client *http.Client, baseURL, text string) (domain.ProcessOutcome, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	resp, err := client.Post(strings.TrimRight(baseURL, "/")+"/v1/utterances", "application/json", bytes.NewReader(body))
	if err != nil {
		return domain.ProcessOutcome{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return domain.ProcessOutcome{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var outcome domain.ProcessOutcome
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		return domain.ProcessOutcome{}, err
	}
	return outcome, nil
}

func printOutcome(outcome domain.ProcessOutcome) {
	switch {
	case outcome.Message != "":
		fmt.Printf("  %s (%dms)\n", outcome.Message, outcome.ProcessingTimeMS)
	case outcome.Result == nil:
		fmt.Printf("  (turn consumed, %dms)\n", outcome.ProcessingTimeMS)
	default:
		c := outcome.Result.Classification
		fmt.Printf("  %s.%s.%s confidence=%.2f (%dms, nlu %dms)\n",
			c.Domain, c.Skill, c.Action, c.Confidence,
			outcome.ProcessingTimeMS, outcome.NLUProcessingTimeMS)
		for _, entity := range outcome.Result.CurrentEntities {
			value := ""
			if entity.Resolution != nil {
				value = entity.Resolution.Value
			}
			fmt.Printf("    entity %s=%q\n", entity.Entity, value)
		}
		for _, resolver := range outcome.Result.Resolvers {
			fmt.Printf("    resolver %s=%q\n", resolver.Name, resolver.Value)
		}
	}
}
