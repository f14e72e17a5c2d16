package dispatcher

import (
	"context"
	"strings"
	"time"

	"leon/internal/domain"
	"leon/internal/skillcfg"
)

// handleActionLoop drives one turn of an action that declared itself in
// loop: the action keeps consuming user input until its expected item stops
// showing up or the executor ends the loop.
func (s *Session) handleActionLoop(ctx context.Context, utterance string, start time.Time) (domain.ProcessOutcome, *redispatch, error) {
	ac := s.conv.ActiveContext()
	skillName, _ := splitIntent(ac.Intent)

	slots := make(map[string]domain.Slot, len(ac.Slots))
	for _, slot := range ac.Slots {
		slots[slot.Name] = slot
	}
	nlu := domain.NLUResult{
		Utterance: utterance,
		Classification: domain.Classification{
			Domain:     ac.Domain,
			Skill:      skillName,
			Action:     ac.ActionName,
			Confidence: 1,
		},
		Slots:              slots,
		ConfigDataFilePath: ac.ConfigDataFilePath,
	}

	entities, err := s.ner.ExtractEntities(ctx, s.lang, ac.ConfigDataFilePath, utterance)
	if err != nil {
		s.handleNERError(ctx, err)
	}
	nlu.CurrentEntities = entities
	nlu.Entities = append(append([]domain.Entity{}, ac.Entities...), entities...)

	cfg, err := s.skills.Load(ac.ConfigDataFilePath)
	if err != nil {
		s.logger.Error("load skill config failed during action loop", "path", ac.ConfigDataFilePath, "error", err)
		return s.empty(start), nil, nil
	}
	action, ok := cfg.Actions[ac.ActionName]
	if !ok || action.Loop == nil {
		// The context claims a loop the config no longer declares.
		s.logger.Warn("action loop without loop config, leaving loop", "action", ac.ActionName)
		s.conv.CleanActiveContext()
		return s.empty(start), &redispatch{utterance: utterance}, nil
	}
	expected := action.Loop.ExpectedItem

	matched := false
	switch {
	case expected.Type == "entity":
		matched = hasEntity(entities, expected.Name)
	case strings.Contains(expected.Type, "resolver"):
		value, ok := s.resolveLoopItem(ctx, utterance, skillName, expected, cfg)
		if ok {
			nlu.Resolvers = append(nlu.Resolvers, domain.Resolver{Name: expected.Name, Value: value})
			matched = true
		}
	}

	if !matched {
		s.talkWernicke(ctx, "random_context_out_of_topic")
		s.conv.CleanActiveContext()
		return s.empty(start), &redispatch{utterance: utterance}, nil
	}

	processed, err := s.brain.Execute(ctx, nlu)
	if err != nil {
		// The loop aborts silently; the user re-drives it.
		s.logger.Error("action loop executor failed", "intent", ac.Intent, "error", err)
		return s.empty(start), nil, nil
	}

	switch {
	case processed.Core.Restart:
		original := ac.OriginalUtterance
		s.conv.CleanActiveContext()
		return s.empty(start), &redispatch{utterance: original}, nil
	case processed.Action.NextAction == "" && !processed.Core.IsInActionLoop && processed.NextAction == nil:
		s.conv.CleanActiveContext()
	case !processed.Core.IsInActionLoop:
		if next := nextActionOf(processed); next != nil {
			s.rotateContext(skillName, next)
		}
	}

	total := msSince(start)
	return domain.ProcessOutcome{
		Result:              &nlu,
		ProcessingTimeMS:    total,
		NLUProcessingTimeMS: total - processed.ExecutionTimeMS,
	}, nil, nil
}

// resolveLoopItem classifies the utterance with the matching resolver model
// and maps the resolved intent leaf onto its declared value.
func (s *Session) resolveLoopItem(ctx context.Context, utterance, skillName string, expected skillcfg.ExpectedItem, cfg skillcfg.Config) (string, bool) {
	model := s.models.SkillsResolvers()
	if expected.Type == "global_resolver" {
		model = s.models.GlobalResolvers()
	}

	result, err := model.Process(ctx, s.lang, utterance)
	if err != nil {
		s.logger.Warn("resolver classification failed", "resolver", expected.Name, "error", err)
		return "", false
	}

	intent := result.Intent
	if !strings.HasPrefix(intent, "resolver.global.") && !strings.HasPrefix(intent, "resolver."+skillName+".") {
		return "", false
	}
	leaf := intent[strings.LastIndex(intent, ".")+1:]

	if expected.Type == "global_resolver" {
		resolver, err := skillcfg.LoadGlobalResolver(s.cfg.DataRoot, s.lang, expected.Name)
		if err != nil {
			s.logger.Error("load global resolver failed", "resolver", expected.Name, "error", err)
			return "", false
		}
		spec, ok := resolver.Intents[leaf]
		return spec.Value, ok
	}

	local, ok := cfg.Resolvers[expected.Name]
	if !ok {
		s.logger.Warn("skill resolver not declared", "resolver", expected.Name)
		return "", false
	}
	spec, ok := local.Intents[leaf]
	return spec.Value, ok
}
