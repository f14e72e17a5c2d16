package dispatcher

import (
	"context"
	"time"

	"leon/internal/domain"
)

// routeSlotFilling decides whether slot filling begins after a fresh
// classification. When the intent declares mandatory slots, the active
// context is seeded with them, the first question goes out, and the turn is
// consumed. Entities already present in the triggering utterance are picked
// up on the next turn, not this one.
func (s *Session) routeSlotFilling(ctx context.Context, intent string, nluResult *domain.NLUResult) bool {
	specs := s.models.Main().MandatorySlots(intent)
	if len(specs) == 0 {
		return false
	}

	slots := make([]domain.Slot, 0, len(specs))
	for _, spec := range specs {
		slots = append(slots, domain.Slot{
			Name:           spec.Name,
			ExpectedEntity: spec.ExpectedEntity,
			PickedQuestion: pickQuestion(spec.Questions),
			Suggestions:    spec.Suggestions,
		})
	}

	skillName, actionName := splitIntent(intent)
	s.conv.SetActiveContext(domain.ActiveContext{
		Name:               nluResult.Classification.Domain + "." + skillName,
		Lang:               s.lang,
		Intent:             intent,
		Domain:             nluResult.Classification.Domain,
		ActionName:         actionName,
		OriginalUtterance:  nluResult.Utterance,
		ConfigDataFilePath: nluResult.ConfigDataFilePath,
		Slots:              slots,
		NextAction:         &domain.NextAction{Name: actionName},
		CurrentEntities:    nluResult.CurrentEntities,
	})

	first := s.conv.GetNotFilledSlot()
	if first == nil {
		return false
	}
	if err := s.events.PublishSuggest(ctx, s.cfg.SessionID, first.Suggestions); err != nil {
		s.logger.Warn("publish slot suggestions failed", "error", err)
	}
	if err := s.brain.Talk(ctx, first.PickedQuestion, false); err != nil {
		s.logger.Warn("ask slot question failed", "error", err)
	}
	s.logger.Info("slot filling started", "intent", intent, "slot", first.Name)
	return true
}

// handleSlotFilling drives one slot-filling turn: fill what the utterance
// offers, ask for the next gap, bail out of topic, or execute once the
// ledger is complete.
func (s *Session) handleSlotFilling(ctx context.Context, utterance string, start time.Time) (domain.ProcessOutcome, *redispatch, error) {
	ac := s.conv.ActiveContext()
	if ac.NextAction == nil {
		return s.empty(start), nil, nil
	}

	entities, err := s.ner.ExtractEntities(ctx, s.lang, ac.ConfigDataFilePath, utterance)
	if err != nil {
		s.handleNERError(ctx, err)
	}

	if slot := s.conv.GetNotFilledSlot(); slot != nil && hasEntity(entities, slot.ExpectedEntity) {
		s.conv.SetSlots(s.lang, entities)
		if next := s.conv.GetNotFilledSlot(); next != nil {
			if err := s.events.PublishSuggest(ctx, s.cfg.SessionID, next.Suggestions); err != nil {
				s.logger.Warn("publish slot suggestions failed", "error", err)
			}
			if err := s.brain.Talk(ctx, next.PickedQuestion, false); err != nil {
				s.logger.Warn("ask slot question failed", "error", err)
			}
			return s.empty(start), nil, nil
		}
	}

	if !s.conv.AreSlotsAllFilled() {
		s.talkWernicke(ctx, "random_context_out_of_topic")
		s.conv.CleanActiveContext()
		return s.empty(start), nil, nil
	}

	next := ac.NextAction
	skillName, _ := splitIntent(ac.Intent)
	slots := make(map[string]domain.Slot, len(ac.Slots))
	for _, slot := range ac.Slots {
		slots[slot.Name] = slot
	}
	nlu := domain.NLUResult{
		Utterance: ac.OriginalUtterance,
		Classification: domain.Classification{
			Domain:     ac.Domain,
			Skill:      skillName,
			Action:     next.Name,
			Confidence: 1,
		},
		Slots:              slots,
		ConfigDataFilePath: ac.ConfigDataFilePath,
		CurrentEntities:    ac.CurrentEntities,
		Entities:           ac.Entities,
	}
	s.conv.CleanActiveContext()
	s.logger.Info("slots filled, executing", "intent", ac.Intent, "action", next.Name)

	processed, err := s.brain.Execute(ctx, nlu)
	if err != nil {
		return s.empty(start), nil, err
	}

	total := msSince(start)
	return domain.ProcessOutcome{
		Result:              &nlu,
		ProcessingTimeMS:    total,
		NLUProcessingTimeMS: total - processed.ExecutionTimeMS,
	}, nil, nil
}

func hasEntity(entities []domain.Entity, name string) bool {
	for _, entity := range entities {
		if entity.Entity == name {
			return true
		}
	}
	return false
}
