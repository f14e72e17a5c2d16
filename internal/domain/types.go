package domain

// Entity is one named entity recovered from an utterance, either by the
// main model's NER or by the external tokenization service.
type Entity struct {
	Entity     string      `json:"entity"`
	SourceText string      `json:"sourceText"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

type Resolution struct {
	Value string `json:"value"`
}

// Resolver is a discrete meaning label attached to a turn, e.g.
// {name: "answer", value: "denial"}.
type Resolver struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Classification struct {
	Domain     string  `json:"domain"`
	Skill      string  `json:"skill"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// Slot is a named parameter a skill action requires. Declaration order
// matters: unfilled slots are asked for in order.
type Slot struct {
	Name           string   `json:"name"`
	ExpectedEntity string   `json:"expectedEntity"`
	PickedQuestion string   `json:"pickedQuestion"`
	Suggestions    []string `json:"suggestions,omitempty"`
	IsFilled       bool     `json:"isFilled"`
	Value          Entity   `json:"value"`
}

type NextAction struct {
	Name string `json:"name"`
	Loop bool   `json:"loop"`
}

// NLUResult is the artifact handed to the brain executor and returned to
// the caller. CurrentEntities are the entities of the just received
// utterance; Entities also carries those inherited from the active context.
type NLUResult struct {
	Utterance          string          `json:"utterance"`
	CurrentEntities    []Entity        `json:"currentEntities"`
	Entities           []Entity        `json:"entities"`
	CurrentResolvers   []Resolver      `json:"currentResolvers"`
	Resolvers          []Resolver      `json:"resolvers"`
	Slots              map[string]Slot `json:"slots,omitempty"`
	ConfigDataFilePath string          `json:"configDataFilePath"`
	Answers            []string        `json:"answers,omitempty"`
	Classification     Classification  `json:"classification"`
}

// ProcessOutcome is what one dispatched turn yields. Result is nil when the
// turn was consumed by a sub-state-machine (question asked, language switch
// in flight). Message is set on the intent-not-found branch.
type ProcessOutcome struct {
	Result              *NLUResult `json:"result,omitempty"`
	Message             string     `json:"message,omitempty"`
	ProcessingTimeMS    int64      `json:"processing_time_ms"`
	NLUProcessingTimeMS int64      `json:"nlu_processing_time_ms,omitempty"`
}

// ActiveContext is the single-slot short-term memory linking successive
// turns to the same skill.
type ActiveContext struct {
	Name               string // "{domain}.{skill}"
	Lang               string
	Intent             string // "{skill}.{action}"
	Domain             string
	ActionName         string
	OriginalUtterance  string
	ConfigDataFilePath string
	Slots              []Slot
	IsInActionLoop     bool
	NextAction         *NextAction
	Entities           []Entity
	CurrentEntities    []Entity
}

// Slot returns the context slot with the given name.
func (c *ActiveContext) Slot(name string) (Slot, bool) {
	for _, s := range c.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// ExecResult is the brain executor's reply for one action run.
type ExecResult struct {
	ExecutionTimeMS    int64           `json:"executionTime"`
	Classification     *Classification `json:"classification,omitempty"`
	Action             ExecAction      `json:"action"`
	NextAction         *NextAction     `json:"nextAction,omitempty"`
	Core               ExecCore        `json:"core"`
	Utterance          string          `json:"utterance"`
	ConfigDataFilePath string          `json:"configDataFilePath"`
	Slots              map[string]Slot `json:"slots,omitempty"`
	SpokenText         string          `json:"spokenText,omitempty"`
}

type ExecAction struct {
	NextAction string `json:"next_action,omitempty"`
	Loop       bool   `json:"loop,omitempty"`
}

type ExecCore struct {
	Restart        bool `json:"restart,omitempty"`
	IsInActionLoop bool `json:"isInActionLoop,omitempty"`
}

// Fallback is one deterministic keyword rule of a language's fallback table.
type Fallback struct {
	Words  []string `json:"words"`
	Domain string   `json:"domain"`
	Skill  string   `json:"skill"`
	Action string   `json:"action"`
}

// MQTT payloads

// UtteranceEvent is an inbound utterance published by a client terminal.
type UtteranceEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// AnswerEvent is an outbound spoken reply.
type AnswerEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// InvokeRequest asks the skill runtime to run one action.
type InvokeRequest struct {
	RequestID string    `json:"request_id"`
	NLU       NLUResult `json:"nlu"`
	Lang      string    `json:"lang"`
}

// InvokeResult is the skill runtime's reply, correlated by RequestID.
type InvokeResult struct {
	RequestID string     `json:"request_id"`
	OK        bool       `json:"ok"`
	Exec      ExecResult `json:"exec"`
	Error     string     `json:"error,omitempty"`
}
