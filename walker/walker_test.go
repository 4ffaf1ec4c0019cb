package walker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/flowbotio/flowbot/graph"
	"github.com/flowbotio/flowbot/model"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	graphs map[string]*graph.Graph
}

func (r *fakeResolver) ResolveBlock(ctx context.Context, botId, blockId string) (*graph.Graph, error) {
	g, ok := r.graphs[blockId]
	if !ok {
		return nil, fmt.Errorf("block %s not found", blockId)
	}
	return g, nil
}

func compile(t *testing.T, def *model.FlowGraph) *graph.Graph {
	g, err := graph.Compile(def)
	require.NoError(t, err)
	return g
}

func rawConf(t *testing.T, conf any) json.RawMessage {
	raw, err := json.Marshal(conf)
	require.NoError(t, err)
	return raw
}

func newTestWalker(resolver GraphResolver) *Walker {
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	return NewWalker(resolver, 100)
}

func freshCursor(startNodeId string) *model.ExecutionCursor {
	cur := model.NewExecutionCursor("bot1", "contact1")
	cur.CurrentNodeId = startNodeId
	return cur
}

func TestWalker(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test text then quick reply halt":      testTextThenQuickReplyHalt,
		"test quick reply resume by title":     testQuickReplyResume,
		"test quick reply resume unmatched":    testQuickReplyResumeUnmatched,
		"test user input fresh does not bind":  testUserInputFresh,
		"test user input resume binds":         testUserInputResume,
		"test condition branch by tag":         testConditionTagBranch,
		"test condition else branch":           testConditionElse,
		"test condition no else ends cleanly":  testConditionNoElse,
		"test delay halts with successor":      testDelayHalt,
		"test go to block jumps in same pass":  testGoToBlock,
		"test go to block unresolvable":        testGoToBlockUnresolvable,
		"test cycle hits loop guard":           testLoopGuard,
		"test dead end halts cleanly":          testDeadEnd,
		"test typing emitted before text":      testShowTyping,
		"test gallery emits card per entry":    testGallery,
		"test template rendered from binding":  testTemplateBinding,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t)
		})
	}
}

// greetingGraph: start -> text "Hi" -> quickReply with two buttons.
func greetingGraph(t *testing.T) *graph.Graph {
	return compile(t, &model.FlowGraph{
		Id:    "greet",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Hi"})},
			{Id: "q1", Kind: model.KIND_QUICK_REPLY, Config: rawConf(t, model.QuickReplyConfig{
				Message: "What next?",
				Buttons: []model.Button{
					{Title: "Pricing", Payload: "pricing"},
					{Title: "Support", Payload: "support"},
				},
			})},
			{Id: "pricing", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Our plans"})},
			{Id: "fallback", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Pick a button"})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
			{Id: "e2", SourceId: "t1", TargetId: "q1"},
			{Id: "e3", SourceId: "q1", TargetId: "pricing", SourceHandle: "pricing"},
			{Id: "e4", SourceId: "q1", TargetId: "fallback"},
			{Id: "e5", SourceId: "pricing", TargetId: "end"},
			{Id: "e6", SourceId: "fallback", TargetId: "end"},
		},
		Enabled: true,
	})
}

func testTextThenQuickReplyHalt(t *testing.T) {
	g := greetingGraph(t)
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "hello", false)
	require.NoError(t, err)
	require.False(t, res.Terminal)
	require.Len(t, res.Actions, 2)
	require.Equal(t, model.ACTION_SEND_TEXT, res.Actions[0].Type)
	require.Equal(t, "Hi", res.Actions[0].Text)
	require.Equal(t, model.ACTION_SEND_QUICK_REPLIES, res.Actions[1].Type)
	require.Len(t, res.Actions[1].QuickReplies, 2)

	require.True(t, res.Cursor.Active())
	require.True(t, res.Cursor.AwaitingInput)
	require.Equal(t, "q1", res.Cursor.CurrentNodeId)
}

func testQuickReplyResume(t *testing.T) {
	g := greetingGraph(t)
	w := newTestWalker(nil)

	cur := freshCursor("q1")
	cur.AwaitingInput = true
	res, err := w.Advance(context.Background(), g, cur, nil, "Pricing", true)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Our plans", res.Actions[0].Text)
	require.False(t, res.Cursor.Active())
}

func testQuickReplyResumeUnmatched(t *testing.T) {
	g := greetingGraph(t)
	w := newTestWalker(nil)

	cur := freshCursor("q1")
	cur.AwaitingInput = true
	res, err := w.Advance(context.Background(), g, cur, nil, "something else", true)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Pick a button", res.Actions[0].Text)
}

// inputGraph: start -> userInput(name) -> text "hi {{name}}" -> end.
func inputGraph(t *testing.T) *graph.Graph {
	return compile(t, &model.FlowGraph{
		Id:    "input",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "ask", Kind: model.KIND_USER_INPUT, Config: rawConf(t, model.UserInputConfig{Message: "What is your name?", Variable: "name"})},
			{Id: "greet", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "hi {{name}}"})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "ask"},
			{Id: "e2", SourceId: "ask", TargetId: "greet"},
			{Id: "e3", SourceId: "greet", TargetId: "end"},
		},
		Enabled: true,
	})
}

func testUserInputFresh(t *testing.T) {
	g := inputGraph(t)
	w := newTestWalker(nil)

	// The triggering message must never be consumed as the answer.
	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "signup", false)
	require.NoError(t, err)
	require.False(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "What is your name?", res.Actions[0].Text)
	require.True(t, res.Cursor.AwaitingInput)
	require.Equal(t, "ask", res.Cursor.CurrentNodeId)
	require.Empty(t, res.Cursor.Bindings["name"])
}

func testUserInputResume(t *testing.T) {
	g := inputGraph(t)
	w := newTestWalker(nil)

	cur := freshCursor("ask")
	cur.AwaitingInput = true
	res, err := w.Advance(context.Background(), g, cur, nil, "Bob", true)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "hi Bob", res.Actions[0].Text)
	// Bindings outlive the flow run.
	require.Equal(t, "Bob", res.Cursor.Bindings["name"])
	require.False(t, res.Cursor.Active())
}

// conditionGraph routes vip-tagged contacts to a dedicated branch.
func conditionGraph(t *testing.T, withElse bool) *graph.Graph {
	edges := []model.Edge{
		{Id: "e1", SourceId: "start", TargetId: "c1"},
		{Id: "e2", SourceId: "c1", TargetId: "vip", SourceHandle: "vip"},
		{Id: "e4", SourceId: "vip", TargetId: "end"},
		{Id: "e5", SourceId: "plain", TargetId: "end"},
	}
	if withElse {
		edges = append(edges, model.Edge{Id: "e3", SourceId: "c1", TargetId: "plain"})
	}
	return compile(t, &model.FlowGraph{
		Id:    "cond",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "c1", Kind: model.KIND_CONDITION, Config: rawConf(t, model.ConditionConfig{
				Cases: []model.ConditionCase{
					{Handle: "vip", Predicate: model.Predicate{Op: model.PREDICATE_TAG_CONTAINS, Value: "vip"}},
				},
			})},
			{Id: "vip", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Welcome back, VIP"})},
			{Id: "plain", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Hello"})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges:   edges,
		Enabled: true,
	})
}

func testConditionTagBranch(t *testing.T) {
	g := conditionGraph(t, true)
	w := newTestWalker(nil)
	contact := &model.Contact{Id: "contact1", BotId: "bot1", Tags: []string{"vip"}}

	res, err := w.Advance(context.Background(), g, freshCursor("start"), contact, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Welcome back, VIP", res.Actions[0].Text)
}

func testConditionElse(t *testing.T) {
	g := conditionGraph(t, true)
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), &model.Contact{Id: "contact1"}, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Hello", res.Actions[0].Text)
}

func testConditionNoElse(t *testing.T) {
	g := conditionGraph(t, false)
	w := newTestWalker(nil)

	// No case matches and no else edge: the conversation just ends.
	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Empty(t, res.Actions)
	require.False(t, res.Cursor.Active())
}

func testDelayHalt(t *testing.T) {
	g := compile(t, &model.FlowGraph{
		Id:    "delayed",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Give me a minute"})},
			{Id: "d1", Kind: model.KIND_DELAY, Config: rawConf(t, model.DelayConfig{Seconds: 60})},
			{Id: "t2", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "Back!"})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
			{Id: "e2", SourceId: "t1", TargetId: "d1"},
			{Id: "e3", SourceId: "d1", TargetId: "t2"},
			{Id: "e4", SourceId: "t2", TargetId: "end"},
		},
		Enabled: true,
	})
	w := newTestWalker(nil)
	now := time.Now()
	w.SetNow(func() time.Time { return now })

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.False(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Give me a minute", res.Actions[0].Text)
	// The cursor parks on the delay's successor so the resume walks on
	// from there.
	require.Equal(t, "t2", res.Cursor.CurrentNodeId)
	require.False(t, res.Cursor.AwaitingInput)
	require.NotNil(t, res.Cursor.PendingResumeAt)
	require.Equal(t, now.Add(60*time.Second), *res.Cursor.PendingResumeAt)

	// The resume finishes the walk with no further halt.
	resumed := res.Cursor
	resumed.PendingResumeAt = nil
	res, err = w.Advance(context.Background(), g, resumed, nil, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "Back!", res.Actions[0].Text)
}

func testGoToBlock(t *testing.T) {
	target := compile(t, &model.FlowGraph{
		Id:    "other",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "From the other block"})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
			{Id: "e2", SourceId: "t1", TargetId: "end"},
		},
		Enabled: true,
	})
	source := compile(t, &model.FlowGraph{
		Id:    "jumper",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "j1", Kind: model.KIND_GO_TO_BLOCK, Config: rawConf(t, model.GoToBlockConfig{BlockId: "other"})},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "j1"},
		},
		Enabled: true,
	})
	w := newTestWalker(&fakeResolver{graphs: map[string]*graph.Graph{"other": target}})

	res, err := w.Advance(context.Background(), source, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "From the other block", res.Actions[0].Text)
}

func testGoToBlockUnresolvable(t *testing.T) {
	source := compile(t, &model.FlowGraph{
		Id:    "jumper",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "j1", Kind: model.KIND_GO_TO_BLOCK, Config: rawConf(t, model.GoToBlockConfig{BlockId: "missing"})},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "j1"},
		},
		Enabled: true,
	})
	w := newTestWalker(&fakeResolver{})

	res, err := w.Advance(context.Background(), source, freshCursor("start"), nil, "", false)
	require.Error(t, err)
	var validation model.ValidationError
	require.ErrorAs(t, err, &validation)
	require.True(t, res.Terminal)
	require.False(t, res.Cursor.Active())
}

func testLoopGuard(t *testing.T) {
	g := compile(t, &model.FlowGraph{
		Id:    "loopy",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "a", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "a"})},
			{Id: "b", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "b"})},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "a"},
			{Id: "e2", SourceId: "a", TargetId: "b"},
			{Id: "e3", SourceId: "b", TargetId: "a"},
		},
		Enabled: true,
	})
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.Error(t, err)
	var loopGuard model.LoopGuardError
	require.ErrorAs(t, err, &loopGuard)
	require.True(t, res.Terminal)
	require.False(t, res.Cursor.Active())
}

func testDeadEnd(t *testing.T) {
	g := compile(t, &model.FlowGraph{
		Id:    "stub",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "last words"})},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
		},
		Enabled: true,
	})
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.True(t, res.Terminal)
	require.Len(t, res.Actions, 1)
}

func testShowTyping(t *testing.T) {
	g := compile(t, &model.FlowGraph{
		Id:    "typing",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "t1", Kind: model.KIND_TEXT, Config: rawConf(t, model.TextConfig{Message: "thinking...", ShowTyping: true})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "t1"},
			{Id: "e2", SourceId: "t1", TargetId: "end"},
		},
		Enabled: true,
	})
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.Len(t, res.Actions, 2)
	require.Equal(t, model.ACTION_SEND_TYPING, res.Actions[0].Type)
	require.Equal(t, model.ACTION_SEND_TEXT, res.Actions[1].Type)
}

func testGallery(t *testing.T) {
	g := compile(t, &model.FlowGraph{
		Id:    "shop",
		BotId: "bot1",
		Nodes: []model.Node{
			{Id: "start", Kind: model.KIND_START},
			{Id: "g1", Kind: model.KIND_GALLERY, Config: rawConf(t, model.GalleryConfig{
				Cards: []model.CardConfig{
					{Title: "Item one"},
					{Title: "Item two"},
					{Title: "Item three"},
				},
			})},
			{Id: "end", Kind: model.KIND_END},
		},
		Edges: []model.Edge{
			{Id: "e1", SourceId: "start", TargetId: "g1"},
			{Id: "e2", SourceId: "g1", TargetId: "end"},
		},
		Enabled: true,
	})
	w := newTestWalker(nil)

	res, err := w.Advance(context.Background(), g, freshCursor("start"), nil, "", false)
	require.NoError(t, err)
	require.Len(t, res.Actions, 3)
	require.Equal(t, "Item one", res.Actions[0].Card.Title)
	require.Equal(t, "Item three", res.Actions[2].Card.Title)
}

func testTemplateBinding(t *testing.T) {
	g := inputGraph(t)
	w := newTestWalker(nil)

	cur := freshCursor("greet")
	cur.Bindings["name"] = "Alice"
	res, err := w.Advance(context.Background(), g, cur, nil, "", false)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	require.Equal(t, "hi Alice", res.Actions[0].Text)
}
