package graph

import (
	"fmt"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"go.uber.org/zap"
)

// Graph is the compiled, execution-ready form of a FlowGraph: node and
// edge indexes plus decoded per-kind configs. Compilation rejects
// payloads that do not match their declared kind so the walker never
// meets an undecodable node.
type Graph struct {
	def      *model.FlowGraph
	startId  string
	nodes    map[string]model.Node
	configs  map[string]any
	outgoing map[string][]model.Edge
}

func Compile(def *model.FlowGraph) (*Graph, error) {
	if def == nil {
		return nil, fmt.Errorf("nil graph definition")
	}
	g := &Graph{
		def:      def,
		nodes:    make(map[string]model.Node, len(def.Nodes)),
		configs:  make(map[string]any, len(def.Nodes)),
		outgoing: make(map[string][]model.Edge),
	}
	for _, n := range def.Nodes {
		if _, ok := g.nodes[n.Id]; ok {
			return nil, fmt.Errorf("graph %s: duplicate node id %s", def.Id, n.Id)
		}
		conf, err := n.DecodeConfig()
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", def.Id, err)
		}
		g.nodes[n.Id] = n
		g.configs[n.Id] = conf
		if n.Kind == model.KIND_START {
			if g.startId == "" {
				g.startId = n.Id
			} else {
				logger.Warn("graph has more than one start node, extra start ignored",
					zap.String("graph", def.Id), zap.String("node", n.Id))
			}
		}
	}
	if g.startId == "" {
		return nil, fmt.Errorf("graph %s: no start node", def.Id)
	}
	for _, e := range def.Edges {
		g.outgoing[e.SourceId] = append(g.outgoing[e.SourceId], e)
	}
	return g, nil
}

func (g *Graph) Id() string              { return g.def.Id }
func (g *Graph) BotId() string           { return g.def.BotId }
func (g *Graph) Name() string            { return g.def.Name }
func (g *Graph) StartNodeId() string     { return g.startId }
func (g *Graph) Triggers() []string      { return g.def.Triggers }
func (g *Graph) IsDefaultAnswer() bool   { return g.def.IsDefaultAnswer }
func (g *Graph) IsWelcome() bool         { return g.def.IsWelcome }
func (g *Graph) Enabled() bool           { return g.def.Enabled }
func (g *Graph) Definition() *model.FlowGraph { return g.def }

func (g *Graph) Node(id string) (model.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Config returns the decoded config for a node id; nil for start/end.
func (g *Graph) Config(id string) any {
	return g.configs[id]
}

// Outgoing returns the node's outgoing edges in authored order.
func (g *Graph) Outgoing(id string) []model.Edge {
	return g.outgoing[id]
}

// OutgoingByHandle resolves the edge labelled with the given source
// handle. The empty handle selects the unlabelled (default/else) edge.
func (g *Graph) OutgoingByHandle(id, handle string) (model.Edge, bool) {
	for _, e := range g.outgoing[id] {
		if e.SourceHandle == handle {
			return e, true
		}
	}
	return model.Edge{}, false
}

// NextNodeId follows the node's single outgoing edge. It reports false
// when the node has no outgoing edge at all.
func (g *Graph) NextNodeId(id string) (string, bool) {
	edges := g.outgoing[id]
	if len(edges) == 0 {
		return "", false
	}
	return edges[0].TargetId, true
}

// Validate runs the structural checks that are warnings at save time:
// orphan non-start nodes and dead-end non-end nodes. Execution never
// depends on these passing.
func (g *Graph) Validate() []string {
	var warnings []string
	incoming := make(map[string]int)
	for _, e := range g.def.Edges {
		incoming[e.TargetId]++
		if _, ok := g.nodes[e.SourceId]; !ok {
			warnings = append(warnings, fmt.Sprintf("edge %s: source %s does not exist", e.Id, e.SourceId))
		}
		if _, ok := g.nodes[e.TargetId]; !ok {
			warnings = append(warnings, fmt.Sprintf("edge %s: target %s does not exist", e.Id, e.TargetId))
		}
	}
	for _, n := range g.def.Nodes {
		if n.Kind != model.KIND_START && incoming[n.Id] == 0 {
			warnings = append(warnings, fmt.Sprintf("node %s has no incoming edge", n.Id))
		}
		if n.Kind != model.KIND_END && len(g.outgoing[n.Id]) == 0 {
			warnings = append(warnings, fmt.Sprintf("node %s has no outgoing edge", n.Id))
		}
	}
	return warnings
}
