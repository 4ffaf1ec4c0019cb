package model

import "strings"

// Contact is the engine's read-only view of the contact ledger. The
// ledger owns the schema; the engine only consumes attributes used by
// condition predicates and trigger selection.
type Contact struct {
	Id         string   `json:"id"`
	BotId      string   `json:"botId"`
	Tags       []string `json:"tags,omitempty"`
	Subscribed bool     `json:"subscribed"`
}

func (c *Contact) HasTag(tag string) bool {
	if c == nil {
		return false
	}
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
