package conversation

import (
	"io"
	"log/slog"
	"testing"

	"leon/internal/domain"
)

func newTestStore() *Store {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func productEntity(value string) domain.Entity {
	return domain.Entity{
		Entity:     "product",
		SourceText: value,
		Resolution: &domain.Resolution{Value: value},
	}
}

func TestSetActiveContextReplacesOnNameMismatch(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{
		Name:              "shopping.list",
		OriginalUtterance: "add milk to my list",
	})
	store.SetActiveContext(domain.ActiveContext{
		Name:              "todo.tasks",
		OriginalUtterance: "create a task",
	})

	ac := store.ActiveContext()
	if ac == nil || ac.Name != "todo.tasks" {
		t.Fatalf("expected todo.tasks context, got %+v", ac)
	}
	if ac.OriginalUtterance != "create a task" {
		t.Fatalf("replacement must not inherit the old original utterance, got %q", ac.OriginalUtterance)
	}
}

func TestSetActiveContextMergePreservesOriginalUtterance(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{
		Name:              "shopping.list",
		Intent:            "list.add",
		OriginalUtterance: "add milk to my list",
		CurrentEntities:   []domain.Entity{productEntity("milk")},
	})
	store.SetActiveContext(domain.ActiveContext{
		Name:              "shopping.list",
		Intent:            "list.check",
		OriginalUtterance: "what is on my list",
		CurrentEntities:   []domain.Entity{productEntity("bread")},
	})

	ac := store.ActiveContext()
	if ac.OriginalUtterance != "add milk to my list" {
		t.Fatalf("merge must keep the activating utterance, got %q", ac.OriginalUtterance)
	}
	if ac.Intent != "list.check" {
		t.Fatalf("merge must take the new intent, got %q", ac.Intent)
	}
	if len(ac.Entities) != 2 {
		t.Fatalf("merge must accumulate entities, got %d", len(ac.Entities))
	}
	if len(ac.CurrentEntities) != 1 || ac.CurrentEntities[0].Resolution.Value != "bread" {
		t.Fatalf("current entities must be the latest turn's, got %+v", ac.CurrentEntities)
	}
}

func TestSetSlotsFillsMatchingSlotsInOrder(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{
		Name:       "shopping.list",
		NextAction: &domain.NextAction{Name: "addItem"},
		Slots: []domain.Slot{
			{Name: "item", ExpectedEntity: "product"},
			{Name: "quantity", ExpectedEntity: "number"},
		},
	})

	if store.AreSlotsAllFilled() {
		t.Fatal("no slot should be filled yet")
	}
	first := store.GetNotFilledSlot()
	if first == nil || first.Name != "item" {
		t.Fatalf("expected first unfilled slot to be item, got %+v", first)
	}

	store.SetSlots("en-US", []domain.Entity{productEntity("milk")})
	if !store.ActiveContext().Slots[0].IsFilled {
		t.Fatal("item slot should be filled")
	}
	next := store.GetNotFilledSlot()
	if next == nil || next.Name != "quantity" {
		t.Fatalf("expected quantity to be the next unfilled slot, got %+v", next)
	}

	store.SetSlots("en-US", []domain.Entity{{Entity: "number", Resolution: &domain.Resolution{Value: "2"}}})
	if !store.AreSlotsAllFilled() {
		t.Fatal("all slots should be filled")
	}
	if store.GetNotFilledSlot() != nil {
		t.Fatal("no unfilled slot should remain")
	}
}

func TestDischargeOnceSlotsFilledWithoutNextAction(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{
		Name:  "shopping.list",
		Slots: []domain.Slot{{Name: "item", ExpectedEntity: "product", IsFilled: true, Value: productEntity("milk")}},
	})

	if store.HasActiveContext() {
		t.Fatal("context with every slot filled and no next action must be discharged")
	}
}

func TestNoDischargeWhileNextActionRemains(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{
		Name:       "shopping.list",
		NextAction: &domain.NextAction{Name: "addItem"},
		Slots:      []domain.Slot{{Name: "item", ExpectedEntity: "product", IsFilled: true, Value: productEntity("milk")}},
	})

	if !store.HasActiveContext() {
		t.Fatal("context must survive while a next action remains")
	}
}

func TestSlotlessContextIsKept(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{Name: "shopping.list"})

	if !store.HasActiveContext() {
		t.Fatal("a slotless context must persist for topic continuity")
	}
}

func TestCleanActiveContext(t *testing.T) {
	store := newTestStore()
	store.SetActiveContext(domain.ActiveContext{Name: "shopping.list"})
	store.CleanActiveContext()

	if store.HasActiveContext() {
		t.Fatal("context should be gone")
	}
	if store.AreSlotsAllFilled() {
		t.Fatal("no context means no filled slots")
	}
}
