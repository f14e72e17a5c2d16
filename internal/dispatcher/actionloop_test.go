package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"leon/internal/classifier"
	"leon/internal/domain"
)

func writeLoopConfig(t *testing.T, env *testEnv, itemName, itemType string) string {
	t.Helper()
	content := fmt.Sprintf(`{
		"actions": {
			"collect": {"loop": {"expected_item": {"name": %q, "type": %q}}}
		},
		"resolvers": {
			"answer": {"intents": {"everything": {"value": "all"}}}
		}
	}`, itemName, itemType)
	path := filepath.Join(env.skillsRoot, "collect-en.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write skill config: %v", err)
	}
	return path
}

func writeGlobalResolver(t *testing.T, env *testEnv) {
	t.Helper()
	dir := filepath.Join(env.dataRoot, "en-US", "global-resolvers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"intents": {"affirmation": {"value": "affirmation"}, "denial": {"value": "denial"}}}`
	if err := os.WriteFile(filepath.Join(dir, "answer.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write global resolver: %v", err)
	}
}

func seedLoopContext(env *testEnv, configPath string) {
	env.conv.SetActiveContext(domain.ActiveContext{
		Name:               "productivity.todo",
		Lang:               "en-US",
		Intent:             "todo.collect",
		Domain:             "productivity",
		ActionName:         "collect",
		OriginalUtterance:  "start my todo review",
		ConfigDataFilePath: configPath,
		IsInActionLoop:     true,
	})
}

func TestActionLoopGlobalResolverDenial(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "global_resolver")
	writeGlobalResolver(t, env)
	seedLoopContext(env, path)
	env.models.global.result = classifier.Result{Intent: "resolver.global.denial", Score: 0.9}
	env.brain.execResult = domain.ExecResult{Core: domain.ExecCore{IsInActionLoop: false}}

	outcome, err := env.sess.Process(context.Background(), "no thanks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result == nil {
		t.Fatal("expected a result")
	}
	if len(outcome.Result.Resolvers) != 1 {
		t.Fatalf("resolvers = %+v", outcome.Result.Resolvers)
	}
	resolver := outcome.Result.Resolvers[0]
	if resolver.Name != "answer" || resolver.Value != "denial" {
		t.Fatalf("resolver = %+v, want answer=denial", resolver)
	}
	if outcome.Result.Classification.Confidence != 1 {
		t.Fatalf("loop classification confidence must be 1, got %v", outcome.Result.Classification.Confidence)
	}
	if len(env.brain.execs) != 1 {
		t.Fatalf("executor must run once, got %d", len(env.brain.execs))
	}
	if env.conv.HasActiveContext() {
		t.Fatal("loop ends without a next action, context must clear")
	}
}

func TestActionLoopSkillResolver(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "skill_resolver")
	seedLoopContext(env, path)
	env.models.skills.result = classifier.Result{Intent: "resolver.todo.everything", Score: 0.9}
	env.brain.execResult = domain.ExecResult{Core: domain.ExecCore{IsInActionLoop: true}}

	outcome, err := env.sess.Process(context.Background(), "everything please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result == nil || len(outcome.Result.Resolvers) != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Result.Resolvers[0].Value != "all" {
		t.Fatalf("resolver = %+v, want all", outcome.Result.Resolvers[0])
	}
	ac := env.conv.ActiveContext()
	if ac == nil || !ac.IsInActionLoop {
		t.Fatal("executor kept the loop alive, context must remain in loop")
	}
}

func TestActionLoopEntityMatch(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "product", "entity")
	seedLoopContext(env, path)
	env.gateway.entities["oat milk"] = []domain.Entity{productEntity("oat milk")}
	env.brain.execResult = domain.ExecResult{Core: domain.ExecCore{IsInActionLoop: true}}

	outcome, err := env.sess.Process(context.Background(), "oat milk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result == nil {
		t.Fatal("expected a result")
	}
	if len(outcome.Result.CurrentEntities) != 1 {
		t.Fatalf("entities = %+v", outcome.Result.CurrentEntities)
	}
	if !env.conv.ActiveContext().IsInActionLoop {
		t.Fatal("loop must continue")
	}
}

func TestActionLoopOutOfTopicRedispatches(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "global_resolver")
	writeGlobalResolver(t, env)
	seedLoopContext(env, path)
	env.models.global.result = classifier.Result{Intent: classifier.NoneIntent}
	env.classify("hello.run", "greetings", 0.9)

	outcome, err := env.sess.Process(context.Background(), "hey how are you")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spokeOutOfTopic := false
	for _, talk := range env.brain.talks {
		if talk.phrase == "random_context_out_of_topic" {
			spokeOutOfTopic = true
		}
	}
	if !spokeOutOfTopic {
		t.Fatalf("expected out-of-topic phrase, talks=%+v", env.brain.talks)
	}

	// The trampoline re-dispatched the same utterance against a clean
	// context and classified it normally.
	if outcome.Result == nil || outcome.Result.Classification.Skill != "hello" {
		t.Fatalf("redispatched outcome = %+v", outcome)
	}
	ac := env.conv.ActiveContext()
	if ac == nil || ac.Name != "greetings.hello" {
		t.Fatalf("context after redispatch = %+v", ac)
	}
}

func TestActionLoopRestartRedispatchesOriginalUtterance(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "global_resolver")
	writeGlobalResolver(t, env)
	seedLoopContext(env, path)
	env.models.global.result = classifier.Result{Intent: "resolver.global.affirmation", Score: 0.9}
	env.brain.execResult = domain.ExecResult{Core: domain.ExecCore{Restart: true}}
	env.classify("todo.start", "productivity", 0.9)

	if _, err := env.sess.Process(context.Background(), "yes please"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.brain.execs) != 2 {
		t.Fatalf("expected loop execution plus restarted execution, got %d", len(env.brain.execs))
	}
	if env.brain.execs[1].Utterance != "start my todo review" {
		t.Fatalf("restart must re-dispatch the activating utterance, got %q", env.brain.execs[1].Utterance)
	}
}

func TestActionLoopNextActionLeavesLoop(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "global_resolver")
	writeGlobalResolver(t, env)
	seedLoopContext(env, path)
	env.models.global.result = classifier.Result{Intent: "resolver.global.affirmation", Score: 0.9}
	env.brain.execResult = domain.ExecResult{
		Core:   domain.ExecCore{IsInActionLoop: false},
		Action: domain.ExecAction{NextAction: "review"},
	}

	if _, err := env.sess.Process(context.Background(), "yes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ac := env.conv.ActiveContext()
	if ac == nil || ac.ActionName != "review" || ac.Intent != "todo.review" {
		t.Fatalf("context = %+v, want rotated to review", ac)
	}
	if ac.IsInActionLoop {
		t.Fatal("next action without loop must leave the action loop")
	}
}

func TestActionLoopExecutorFailureAbortsSilently(t *testing.T) {
	env := newEnv(t)
	path := writeLoopConfig(t, env, "answer", "global_resolver")
	writeGlobalResolver(t, env)
	seedLoopContext(env, path)
	env.models.global.result = classifier.Result{Intent: "resolver.global.denial", Score: 0.9}
	env.brain.execErr = fmt.Errorf("skill crashed")

	outcome, err := env.sess.Process(context.Background(), "no thanks")
	if err != nil {
		t.Fatalf("loop executor failures must not surface, got %v", err)
	}
	if outcome.Result != nil {
		t.Fatal("loop aborts silently with an empty outcome")
	}
	ac := env.conv.ActiveContext()
	if ac == nil || !ac.IsInActionLoop {
		t.Fatal("the context must be left as it was so the user can re-drive the loop")
	}
}
