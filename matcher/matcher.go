package matcher

import (
	"context"
	"strings"

	"github.com/flowbotio/flowbot/cache"
	"github.com/flowbotio/flowbot/graph"
	"github.com/flowbotio/flowbot/logger"
	"go.uber.org/zap"
)

// EntryPoint is where a fresh inbound message enters execution: a
// compiled graph and the node to start from.
type EntryPoint struct {
	Graph  *graph.Graph
	NodeId string
}

type Matcher struct {
	graphs *cache.GraphCache
}

func NewMatcher(graphs *cache.GraphCache) *Matcher {
	return &Matcher{graphs: graphs}
}

// Match selects the entry point for a fresh inbound message.
// Precedence: quick-reply payload (explicit navigation), exact keyword
// phrase, keyword substring, default-answer block, default flow.
// Welcome blocks are eligible only for a contact's first-ever message.
// A nil entry point with nil error means the bot stays silent.
func (m *Matcher) Match(ctx context.Context, botId, messageText, quickReplyPayload string, firstContact bool) (*EntryPoint, error) {
	if quickReplyPayload != "" {
		if entry := m.ResolvePayload(ctx, botId, quickReplyPayload); entry != nil {
			return entry, nil
		}
		logger.Debug("quick reply payload did not resolve, falling back to keywords",
			zap.String("botId", botId), zap.String("payload", quickReplyPayload))
	}
	candidates, err := m.graphs.EntryCandidates(ctx, botId)
	if err != nil {
		return nil, err
	}
	if firstContact {
		for _, candidate := range candidates {
			if candidate.Enabled() && candidate.IsWelcome() {
				return &EntryPoint{Graph: candidate, NodeId: candidate.StartNodeId()}, nil
			}
		}
	}
	if entry := matchKeywords(candidates, messageText, firstContact); entry != nil {
		return entry, nil
	}
	for _, candidate := range candidates {
		if candidate.Enabled() && candidate.IsDefaultAnswer() {
			return &EntryPoint{Graph: candidate, NodeId: candidate.StartNodeId()}, nil
		}
	}
	flow, err := m.graphs.DefaultFlow(ctx, botId)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, nil
	}
	return &EntryPoint{Graph: flow, NodeId: flow.StartNodeId()}, nil
}

// ResolvePayload treats a quick-reply payload as explicit navigation:
// "blockId" jumps to a block's start, "blockId#nodeId" to a specific
// node inside it. Nil when the payload names no known block, in which
// case the payload is ordinary input, not navigation.
func (m *Matcher) ResolvePayload(ctx context.Context, botId, payload string) *EntryPoint {
	blockId, nodeId, hasNode := strings.Cut(payload, "#")
	g, err := m.graphs.ResolveBlock(ctx, botId, blockId)
	if err != nil {
		return nil
	}
	if !hasNode {
		return &EntryPoint{Graph: g, NodeId: g.StartNodeId()}
	}
	if _, ok := g.Node(nodeId); !ok {
		return nil
	}
	return &EntryPoint{Graph: g, NodeId: nodeId}
}

func matchKeywords(candidates []*graph.Graph, messageText string, firstContact bool) *EntryPoint {
	text := strings.TrimSpace(strings.ToLower(messageText))
	if text == "" {
		return nil
	}
	// Exact phrase beats substring; candidates arrive in creation
	// order, so the first hit of each tier wins the tie.
	for _, candidate := range candidates {
		if !eligible(candidate, firstContact) {
			continue
		}
		for _, keyword := range candidate.Triggers() {
			if strings.ToLower(strings.TrimSpace(keyword)) == text {
				return &EntryPoint{Graph: candidate, NodeId: candidate.StartNodeId()}
			}
		}
	}
	for _, candidate := range candidates {
		if !eligible(candidate, firstContact) {
			continue
		}
		for _, keyword := range candidate.Triggers() {
			kw := strings.ToLower(strings.TrimSpace(keyword))
			if kw != "" && strings.Contains(text, kw) {
				return &EntryPoint{Graph: candidate, NodeId: candidate.StartNodeId()}
			}
		}
	}
	return nil
}

func eligible(g *graph.Graph, firstContact bool) bool {
	if !g.Enabled() {
		return false
	}
	if g.IsWelcome() && !firstContact {
		return false
	}
	return true
}
