package model

import (
	"encoding/json"
	"fmt"
)

type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
	Url     string `json:"url,omitempty"`
}

type TextConfig struct {
	Message    string `json:"message"`
	ShowTyping bool   `json:"showTyping,omitempty"`
}

type ImageConfig struct {
	Url string `json:"url"`
}

type CardConfig struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageUrl string   `json:"imageUrl,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type GalleryConfig struct {
	Cards []CardConfig `json:"cards"`
}

type QuickReplyConfig struct {
	Message    string   `json:"message"`
	ShowTyping bool     `json:"showTyping,omitempty"`
	Buttons    []Button `json:"buttons"`
}

type UserInputConfig struct {
	Message  string `json:"message,omitempty"`
	Variable string `json:"variable"`
}

type PredicateOp string

const PREDICATE_EQ PredicateOp = "eq"
const PREDICATE_NEQ PredicateOp = "neq"
const PREDICATE_CONTAINS PredicateOp = "contains"
const PREDICATE_EXISTS PredicateOp = "exists"
const PREDICATE_TAG_CONTAINS PredicateOp = "tagContains"
const PREDICATE_SUBSCRIBED PredicateOp = "subscribed"
const PREDICATE_EXPRESSION PredicateOp = "expression"

type Predicate struct {
	Op         PredicateOp `json:"op"`
	Name       string      `json:"name,omitempty"`
	Value      string      `json:"value,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// ConditionCase couples a predicate to the outgoing edge handle taken
// when the predicate holds. Cases are evaluated in order; the edge with
// an empty source handle is the else branch.
type ConditionCase struct {
	Handle    string    `json:"handle"`
	Predicate Predicate `json:"predicate"`
}

type ConditionConfig struct {
	Cases []ConditionCase `json:"cases"`
}

type DelayConfig struct {
	Seconds int `json:"seconds"`
}

type GoToBlockConfig struct {
	BlockId string `json:"blockId"`
}

// DecodeConfig decodes the node's raw payload into the struct declared
// for its kind. A payload that does not match the declared kind comes
// back as an error value; corrupt authoring data must never panic the
// engine.
func (n Node) DecodeConfig() (any, error) {
	switch n.Kind {
	case KIND_START, KIND_END:
		return nil, nil
	case KIND_TEXT:
		var c TextConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Message == "" {
			return nil, fmt.Errorf("node %s: text config requires message", n.Id)
		}
		return c, nil
	case KIND_IMAGE:
		var c ImageConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Url == "" {
			return nil, fmt.Errorf("node %s: image config requires url", n.Id)
		}
		return c, nil
	case KIND_CARD:
		var c CardConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Title == "" {
			return nil, fmt.Errorf("node %s: card config requires title", n.Id)
		}
		return c, nil
	case KIND_GALLERY:
		var c GalleryConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if len(c.Cards) == 0 {
			return nil, fmt.Errorf("node %s: gallery config requires at least one card", n.Id)
		}
		return c, nil
	case KIND_QUICK_REPLY:
		var c QuickReplyConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Message == "" || len(c.Buttons) == 0 {
			return nil, fmt.Errorf("node %s: quick reply config requires message and buttons", n.Id)
		}
		return c, nil
	case KIND_USER_INPUT:
		var c UserInputConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Variable == "" {
			return nil, fmt.Errorf("node %s: user input config requires variable", n.Id)
		}
		return c, nil
	case KIND_CONDITION:
		var c ConditionConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if len(c.Cases) == 0 {
			return nil, fmt.Errorf("node %s: condition config requires cases", n.Id)
		}
		return c, nil
	case KIND_DELAY:
		var c DelayConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.Seconds <= 0 {
			return nil, fmt.Errorf("node %s: delay value %d wrong", n.Id, c.Seconds)
		}
		return c, nil
	case KIND_GO_TO_BLOCK:
		var c GoToBlockConfig
		if err := decodeStrict(n, &c); err != nil {
			return nil, err
		}
		if c.BlockId == "" {
			return nil, fmt.Errorf("node %s: goToBlock config requires blockId", n.Id)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("node %s: unknown node kind %q", n.Id, n.Kind)
	}
}

func decodeStrict(n Node, out any) error {
	if len(n.Config) == 0 {
		return fmt.Errorf("node %s: missing config for kind %s", n.Id, n.Kind)
	}
	if err := json.Unmarshal(n.Config, out); err != nil {
		return fmt.Errorf("node %s: config does not match kind %s: %w", n.Id, n.Kind, err)
	}
	return nil
}
