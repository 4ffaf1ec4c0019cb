package graph

import (
	"encoding/json"
	"testing"

	"github.com/flowbotio/flowbot/model"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test compile simple graph":       testCompileSimple,
		"test first start node wins":      testExtraStartIgnored,
		"test no start node rejected":     testNoStart,
		"test duplicate node id rejected": testDuplicateNode,
		"test bad config rejected":        testBadConfig,
		"test edge handle lookup":         testOutgoingByHandle,
		"test structural warnings":        testValidateWarnings,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t)
		})
	}
}

func textNode(id, message string) model.Node {
	conf, _ := json.Marshal(model.TextConfig{Message: message})
	return model.Node{Id: id, Kind: model.KIND_TEXT, Config: conf}
}

func testCompileSimple(t *testing.T) {
	def := &model.FlowGraph{
		Id:    "g1",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			textNode("t1", "hello"),
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
			{Id: "e2", SourceId: "t1", TargetId: "end"},
		},
		Enabled: true,
	}
	g, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, "start", g.StartNodeId())

	next, ok := g.NextNodeId("start")
	require.True(t, ok)
	require.Equal(t, "t1", next)

	conf, ok := g.Config("t1").(model.TextConfig)
	require.True(t, ok)
	require.Equal(t, "hello", conf.Message)

	_, ok = g.NextNodeId("end")
	require.False(t, ok)
}

func testExtraStartIgnored(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			{Id: "s1", Kind: model.KIND_START},
			{Id: "s2", Kind: model.KIND_START},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "s1", TargetId: "end"},
		},
	}
	g, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, "s1", g.StartNodeId())
}

func testNoStart(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			textNode("t1", "hello"),
		},
	}
	_, err := Compile(def)
	require.Error(t, err)
}

func testDuplicateNode(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			textNode("t1", "a"),
			textNode("t1", "b"),
		},
	}
	_, err := Compile(def)
	require.Error(t, err)
}

func testBadConfig(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: json.RawMessage(`{"message":""}`)},
		},
	}
	_, err := Compile(def)
	require.Error(t, err)

	def.Nodes[1] = model.Node{Id: "d1", Kind: model.KIND_DELAY, Config: json.RawMessage(`{"seconds":-5}`)}
	_, err = Compile(def)
	require.Error(t, err)
}

func testOutgoingByHandle(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "c1", Kind: model.KIND_CONDITION, Config: json.RawMessage(`{"cases":[{"handle":"yes","predicate":{"op":"exists","name":"x"}}]}`)},
			{Id: "end1", Kind: model.KIND_END},
			{Id: "end2", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "c1"},
			{Id: "e2", SourceId: "c1", TargetId: "end1", SourceHandle: "yes"},
			{Id: "e3", SourceId: "c1", TargetId: "end2"},
		},
	}
	g, err := Compile(def)
	require.NoError(t, err)

	edge, ok := g.OutgoingByHandle("c1", "yes")
	require.True(t, ok)
	require.Equal(t, "end1", edge.TargetId)

	edge, ok = g.OutgoingByHandle("c1", "")
	require.True(t, ok)
	require.Equal(t, "end2", edge.TargetId)

	_, ok = g.OutgoingByHandle("c1", "no")
	require.False(t, ok)
}

func testValidateWarnings(t *testing.T) {
	def := &model.FlowGraph{
		Id: "g1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			textNode("orphan", "never reached"),
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "end"},
			{Id: "e2", SourceId: "orphan", TargetId: "missing"},
		},
	}
	g, err := Compile(def)
	require.NoError(t, err)
	warnings := g.Validate()
	require.NotEmpty(t, warnings)

	joined := ""
	for _, w := range warnings {
		joined += w + "\n"
	}
	require.Contains(t, joined, "orphan")
	require.Contains(t, joined, "missing")
}
