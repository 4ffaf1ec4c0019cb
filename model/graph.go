package model

import (
	"encoding/json"
	"time"
)

type NodeKind string

const KIND_START NodeKind = "start"
const KIND_TEXT NodeKind = "text"
const KIND_IMAGE NodeKind = "image"
const KIND_CARD NodeKind = "card"
const KIND_GALLERY NodeKind = "gallery"
const KIND_QUICK_REPLY NodeKind = "quickReply"
const KIND_USER_INPUT NodeKind = "userInput"
const KIND_CONDITION NodeKind = "condition"
const KIND_DELAY NodeKind = "delay"
const KIND_GO_TO_BLOCK NodeKind = "goToBlock"
const KIND_END NodeKind = "end"

// Node is a single step in an authored flow graph. Config carries the
// kind-specific payload and is decoded lazily through DecodeConfig.
type Node struct {
	Id     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

type Edge struct {
	Id           string `json:"id"`
	SourceId     string `json:"sourceId"`
	TargetId     string `json:"targetId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// FlowGraph is the persisted form of a flow or block as the authoring
// system saves it. The engine never mutates a FlowGraph.
type FlowGraph struct {
	Id              string    `json:"id"`
	BotId           string    `json:"botId"`
	Name            string    `json:"name"`
	Nodes           []Node    `json:"nodes"`
	Edges           []Edge    `json:"edges"`
	Triggers        []string  `json:"triggers,omitempty"`
	IsDefaultAnswer bool      `json:"isDefaultAnswer,omitempty"`
	IsWelcome       bool      `json:"isWelcome,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
}
