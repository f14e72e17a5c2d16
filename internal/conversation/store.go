package conversation

import (
	"log/slog"

	"leon/internal/domain"
)

// Store holds the conversation's short-term memory: at most one active
// context plus its slot ledger. All operations are synchronous and
// single-session; the dispatcher serializes access per turn.
type Store struct {
	logger *slog.Logger
	active *domain.ActiveContext
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) HasActiveContext() bool {
	return s.active != nil
}

// ActiveContext returns the live context, nil when none. The pointer aliases
// store state so the sub-state-machines mutate it in place.
func (s *Store) ActiveContext() *domain.ActiveContext {
	return s.active
}

// SetActiveContext activates ctx. A context with a different name discards
// the current one; the same name merges, preserving the utterance that first
// activated the context and accumulating its entities.
func (s *Store) SetActiveContext(ctx domain.ActiveContext) {
	if ctx.Entities == nil {
		ctx.Entities = append([]domain.Entity{}, ctx.CurrentEntities...)
	}

	if s.active == nil || s.active.Name != ctx.Name {
		if s.active != nil {
			s.logger.Info("active context replaced", "old", s.active.Name, "new", ctx.Name)
		}
		copied := ctx
		s.active = &copied
		s.discharge()
		return
	}

	s.active.Lang = ctx.Lang
	s.active.Intent = ctx.Intent
	s.active.Domain = ctx.Domain
	s.active.ActionName = ctx.ActionName
	s.active.ConfigDataFilePath = ctx.ConfigDataFilePath
	s.active.IsInActionLoop = ctx.IsInActionLoop
	s.active.NextAction = ctx.NextAction
	s.active.CurrentEntities = ctx.CurrentEntities
	s.active.Entities = append(s.active.Entities, ctx.CurrentEntities...)
	for _, slot := range ctx.Slots {
		s.upsertSlot(slot)
	}
	s.discharge()
}

func (s *Store) upsertSlot(slot domain.Slot) {
	for i := range s.active.Slots {
		if s.active.Slots[i].Name == slot.Name {
			s.active.Slots[i] = slot
			return
		}
	}
	s.active.Slots = append(s.active.Slots, slot)
}

// discharge drops a non-loop context once every declared slot is filled and
// no next action remains.
func (s *Store) discharge() {
	if s.active == nil || s.active.IsInActionLoop || s.active.NextAction != nil {
		return
	}
	if len(s.active.Slots) == 0 || !s.AreSlotsAllFilled() {
		return
	}
	s.logger.Info("active context discharged", "name", s.active.Name)
	s.active = nil
}

func (s *Store) CleanActiveContext() {
	if s.active != nil {
		s.logger.Info("active context cleaned", "name", s.active.Name)
	}
	s.active = nil
}

// SetSlots records the value of every slot whose expected entity matches an
// extracted entity and marks it filled.
func (s *Store) SetSlots(lang string, entities []domain.Entity) {
	if s.active == nil {
		return
	}
	s.active.Lang = lang
	for i := range s.active.Slots {
		slot := &s.active.Slots[i]
		for _, entity := range entities {
			if entity.Entity != slot.ExpectedEntity {
				continue
			}
			slot.Value = entity
			slot.IsFilled = true
			break
		}
	}
}

// GetNotFilledSlot returns the first unfilled slot in declaration order.
func (s *Store) GetNotFilledSlot() *domain.Slot {
	if s.active == nil {
		return nil
	}
	for i := range s.active.Slots {
		if !s.active.Slots[i].IsFilled {
			return &s.active.Slots[i]
		}
	}
	return nil
}

func (s *Store) AreSlotsAllFilled() bool {
	if s.active == nil {
		return false
	}
	for _, slot := range s.active.Slots {
		if !slot.IsFilled {
			return false
		}
	}
	return true
}
