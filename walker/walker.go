package walker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowbotio/flowbot/graph"
	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"go.uber.org/zap"
)

// GraphResolver resolves goToBlock targets so a cross-graph jump
// completes inside the same walk.
type GraphResolver interface {
	ResolveBlock(ctx context.Context, botId, blockId string) (*graph.Graph, error)
}

// WalkResult is one bounded pass over a graph: the ordered actions to
// dispatch, the cursor to persist, and whether the conversation ended.
type WalkResult struct {
	Actions  []model.OutboundAction
	Cursor   *model.ExecutionCursor
	Terminal bool
}

// Walker advances a conversation through its graph one pass at a time.
// A pass is a pure function of the graph, the cursor (including
// bindings), the contact attributes and the inbound text; it executes
// at most maxSteps nodes.
type Walker struct {
	resolver GraphResolver
	maxSteps int
	now      func() time.Time
}

func NewWalker(resolver GraphResolver, maxSteps int) *Walker {
	if maxSteps <= 0 {
		maxSteps = 100
	}
	return &Walker{
		resolver: resolver,
		maxSteps: maxSteps,
		now:      time.Now,
	}
}

// Advance walks from cursor.CurrentNodeId until an end node, a
// userInput/delay halt, or the loop guard. With resuming set, the
// inbound text is the answer to the halt the cursor is parked on;
// without it, the text only feeds userInput nodes reached later.
func (w *Walker) Advance(ctx context.Context, g *graph.Graph, cursor *model.ExecutionCursor, contact *model.Contact, inboundText string, resuming bool) (*WalkResult, error) {
	cur := cursor.Clone()
	if cur.Bindings == nil {
		cur.Bindings = make(map[string]string)
	}
	cur.GraphId = g.Id()
	res := &WalkResult{Cursor: cur}
	nodeId := cur.CurrentNodeId
	visited := make(map[string]bool)

	for steps := 0; ; steps++ {
		if steps >= w.maxSteps {
			res.Terminal = true
			cur.Clear()
			return res, model.LoopGuardError{NodeId: nodeId, Steps: steps}
		}
		visitKey := g.Id() + ":" + nodeId
		if visited[visitKey] {
			res.Terminal = true
			cur.Clear()
			return res, model.LoopGuardError{NodeId: nodeId, Steps: steps}
		}
		visited[visitKey] = true

		node, ok := g.Node(nodeId)
		if !ok {
			res.Terminal = true
			cur.Clear()
			return res, model.ValidationError{NodeId: nodeId, Reason: "node does not exist"}
		}

		switch node.Kind {
		case model.KIND_START:
			// no effect

		case model.KIND_TEXT:
			conf := g.Config(nodeId).(model.TextConfig)
			if conf.ShowTyping {
				res.Actions = append(res.Actions, model.SendTyping())
			}
			res.Actions = append(res.Actions, model.SendText(graph.RenderTemplate(conf.Message, cur.Bindings)))

		case model.KIND_IMAGE:
			conf := g.Config(nodeId).(model.ImageConfig)
			res.Actions = append(res.Actions, model.SendImage(conf.Url))

		case model.KIND_CARD:
			conf := g.Config(nodeId).(model.CardConfig)
			res.Actions = append(res.Actions, model.SendCard(renderCard(conf, cur.Bindings)))

		case model.KIND_GALLERY:
			conf := g.Config(nodeId).(model.GalleryConfig)
			for _, card := range conf.Cards {
				res.Actions = append(res.Actions, model.SendCard(renderCard(card, cur.Bindings)))
			}

		case model.KIND_QUICK_REPLY:
			conf := g.Config(nodeId).(model.QuickReplyConfig)
			if resuming {
				// Plain-text answer to a quick-reply halt: a reply
				// matching a button takes that button's edge, anything
				// else takes the default edge.
				resuming = false
				edge, ok := quickReplyEdge(g, nodeId, conf, inboundText)
				if !ok {
					res.Terminal = true
					cur.Clear()
					return res, nil
				}
				cur.AwaitingInput = false
				nodeId = edge.TargetId
				cur.CurrentNodeId = nodeId
				continue
			}
			if conf.ShowTyping {
				res.Actions = append(res.Actions, model.SendTyping())
			}
			replies := make([]model.QuickReply, 0, len(conf.Buttons))
			for _, b := range conf.Buttons {
				replies = append(replies, model.QuickReply{Title: b.Title, Payload: b.Payload})
			}
			res.Actions = append(res.Actions, model.SendQuickReplies(graph.RenderTemplate(conf.Message, cur.Bindings), replies))
			cur.CurrentNodeId = nodeId
			cur.AwaitingInput = true
			return res, nil

		case model.KIND_USER_INPUT:
			conf := g.Config(nodeId).(model.UserInputConfig)
			if resuming {
				// The halt is over: the new inbound text becomes the
				// bound value and the walk moves on.
				cur.Bindings[conf.Variable] = inboundText
				cur.AwaitingInput = false
				resuming = false
			} else {
				// Entered fresh: never consume the triggering message
				// as the bound value; park and wait for the next one.
				if conf.Message != "" {
					res.Actions = append(res.Actions, model.SendText(graph.RenderTemplate(conf.Message, cur.Bindings)))
				}
				cur.CurrentNodeId = nodeId
				cur.AwaitingInput = true
				return res, nil
			}

		case model.KIND_CONDITION:
			conf := g.Config(nodeId).(model.ConditionConfig)
			handle, matched := EvaluateCondition(conf, cur.Bindings, contact)
			if matched {
				edge, ok := g.OutgoingByHandle(nodeId, handle)
				if !ok {
					res.Terminal = true
					cur.Clear()
					return res, model.ValidationError{NodeId: nodeId, Reason: fmt.Sprintf("no edge for condition handle %q", handle)}
				}
				nodeId = edge.TargetId
				cur.CurrentNodeId = nodeId
				continue
			}
			elseEdge, ok := g.OutgoingByHandle(nodeId, "")
			if !ok {
				// No else branch: the conversation simply ends here.
				res.Terminal = true
				cur.Clear()
				return res, nil
			}
			nodeId = elseEdge.TargetId
			cur.CurrentNodeId = nodeId
			continue

		case model.KIND_DELAY:
			conf := g.Config(nodeId).(model.DelayConfig)
			next, ok := g.NextNodeId(nodeId)
			if !ok {
				res.Terminal = true
				cur.Clear()
				return res, nil
			}
			resumeAt := w.now().Add(time.Duration(conf.Seconds) * time.Second)
			cur.CurrentNodeId = next
			cur.AwaitingInput = false
			cur.PendingResumeAt = &resumeAt
			return res, nil

		case model.KIND_GO_TO_BLOCK:
			conf := g.Config(nodeId).(model.GoToBlockConfig)
			target, err := w.resolver.ResolveBlock(ctx, g.BotId(), conf.BlockId)
			if err != nil {
				res.Terminal = true
				cur.Clear()
				return res, model.ValidationError{NodeId: nodeId, Reason: fmt.Sprintf("goToBlock target %s unresolvable: %v", conf.BlockId, err)}
			}
			logger.Debug("cross graph jump",
				zap.String("fromGraph", g.Id()), zap.String("toGraph", target.Id()))
			g = target
			nodeId = g.StartNodeId()
			cur.GraphId = g.Id()
			cur.CurrentNodeId = nodeId
			continue

		case model.KIND_END:
			res.Terminal = true
			cur.Clear()
			return res, nil

		default:
			res.Terminal = true
			cur.Clear()
			return res, model.ValidationError{NodeId: nodeId, Reason: fmt.Sprintf("unknown node kind %q", node.Kind)}
		}

		next, ok := g.NextNodeId(nodeId)
		if !ok {
			// Dead end that is not an end node: halt cleanly rather
			// than crash; the validator flagged this at save time.
			res.Terminal = true
			cur.Clear()
			return res, nil
		}
		nodeId = next
		cur.CurrentNodeId = nodeId
	}
}

func quickReplyEdge(g *graph.Graph, nodeId string, conf model.QuickReplyConfig, inboundText string) (model.Edge, bool) {
	for _, b := range conf.Buttons {
		if strings.EqualFold(strings.TrimSpace(inboundText), b.Title) || (b.Payload != "" && strings.EqualFold(strings.TrimSpace(inboundText), b.Payload)) {
			if edge, ok := g.OutgoingByHandle(nodeId, b.Payload); ok {
				return edge, true
			}
		}
	}
	return g.OutgoingByHandle(nodeId, "")
}

func renderCard(conf model.CardConfig, bindings map[string]string) model.Card {
	return model.Card{
		Title:    graph.RenderTemplate(conf.Title, bindings),
		Subtitle: graph.RenderTemplate(conf.Subtitle, bindings),
		ImageUrl: conf.ImageUrl,
		Buttons:  conf.Buttons,
	}
}

// SetNow overrides the walker clock; tests use it to pin delay
// scheduling.
func (w *Walker) SetNow(now func() time.Time) {
	w.now = now
}
