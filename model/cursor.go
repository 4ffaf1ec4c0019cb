package model

import "time"

// ExecutionCursor records where a contact's conversation currently is.
// One cursor exists per (bot, contact) pair; only the execution
// coordinator mutates it, under the per-contact lock. Version is the
// compare-and-swap token used by the cursor store.
type ExecutionCursor struct {
	BotId           string            `json:"botId"`
	ContactId       string            `json:"contactId"`
	GraphId         string            `json:"graphId,omitempty"`
	CurrentNodeId   string            `json:"currentNodeId,omitempty"`
	AwaitingInput   bool              `json:"awaitingInput,omitempty"`
	Bindings        map[string]string `json:"bindings,omitempty"`
	PendingResumeAt *time.Time        `json:"pendingResumeAt,omitempty"`
	Version         int64             `json:"version"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func NewExecutionCursor(botId, contactId string) *ExecutionCursor {
	return &ExecutionCursor{
		BotId:     botId,
		ContactId: contactId,
		Bindings:  make(map[string]string),
	}
}

// Active reports whether the contact is inside a flow.
func (c *ExecutionCursor) Active() bool {
	return c != nil && c.CurrentNodeId != ""
}

// Clear drops the execution position but keeps accumulated bindings,
// which live for the whole conversation, not a single flow run.
func (c *ExecutionCursor) Clear() {
	c.GraphId = ""
	c.CurrentNodeId = ""
	c.AwaitingInput = false
	c.PendingResumeAt = nil
}

func (c *ExecutionCursor) Clone() *ExecutionCursor {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Bindings = make(map[string]string, len(c.Bindings))
	for k, v := range c.Bindings {
		cp.Bindings[k] = v
	}
	if c.PendingResumeAt != nil {
		t := *c.PendingResumeAt
		cp.PendingResumeAt = &t
	}
	return &cp
}

// DelayTask is the delay queue entry scheduled when a walk halts at a
// delay node. CursorVersion pins the cursor state the resume is valid
// for; the scheduler drops the task if the cursor moved on.
type DelayTask struct {
	Token         string    `json:"token"`
	BotId         string    `json:"botId"`
	ContactId     string    `json:"contactId"`
	CursorVersion int64     `json:"cursorVersion"`
	ResumeAt      time.Time `json:"resumeAt"`
}
