package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowbotio/flowbot/cache"
	"github.com/flowbotio/flowbot/channel"
	"github.com/flowbotio/flowbot/config"
	"github.com/flowbotio/flowbot/conversation"
	"github.com/flowbotio/flowbot/graph"
	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/matcher"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/walker"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator is the engine's single entry point for inbound events.
// It serializes work per (bot, contact), decides between resume and
// trigger matching, runs the walker, dispatches the resulting actions
// in order, and persists the cursor. Internal errors are converted to
// result values at this boundary; nothing escalates to the caller.
type Coordinator struct {
	cfg         config.Config
	locks       *LockTable
	cursors     persistence.CursorStore
	contacts    persistence.ContactStore
	delays      persistence.DelayQueue
	graphs      *cache.GraphCache
	matcher     *matcher.Matcher
	walker      *walker.Walker
	delivery    channel.Delivery
	status      conversation.Status
	deactivated *deactivationSet
}

func NewCoordinator(
	cfg config.Config,
	storage persistence.Storage,
	graphs *cache.GraphCache,
	m *matcher.Matcher,
	w *walker.Walker,
	delivery channel.Delivery,
	status conversation.Status,
) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		locks:       NewLockTable(cfg.LockShards),
		cursors:     storage.Cursors(),
		contacts:    storage.Contacts(),
		delays:      storage.Delays(),
		graphs:      graphs,
		matcher:     m,
		walker:      w,
		delivery:    delivery,
		status:      status,
		deactivated: newDeactivationSet(),
	}
}

func lockKey(botId, contactId string) string {
	return fmt.Sprintf("%s:%s", botId, contactId)
}

// Deactivate rejects further inbound events for a bot. Walks already
// holding the contact lock finish their current batch.
func (c *Coordinator) Deactivate(botId string) {
	c.deactivated.add(botId)
	logger.Info("bot deactivated", zap.String("botId", botId))
}

func (c *Coordinator) Activate(botId string) {
	c.deactivated.remove(botId)
}

// HandleInboundMessage processes one webhook event end to end.
func (c *Coordinator) HandleInboundMessage(ctx context.Context, msg model.InboundMessage) model.Result {
	if c.deactivated.contains(msg.BotId) {
		return model.Result{ErrorKind: model.ERROR_BOT_DEACTIVATED}
	}
	takeover, err := c.status.IsHumanTakeover(ctx, msg.BotId, msg.ContactId)
	if err != nil {
		logger.Error("error checking takeover flag", zap.String("botId", msg.BotId), zap.String("contactId", msg.ContactId), zap.Error(err))
		return model.Result{ErrorKind: model.ERROR_STORAGE}
	}
	if takeover {
		// A human owns the conversation; just record the message for
		// the agent and stay out of the way.
		if err := c.status.RecordIncoming(ctx, msg); err != nil {
			logger.Error("error recording incoming message", zap.String("botId", msg.BotId), zap.Error(err))
		}
		return model.Result{}
	}

	release, err := c.locks.Acquire(ctx, lockKey(msg.BotId, msg.ContactId), c.cfg.LockWaitTimeout)
	if err != nil {
		logger.Warn("rejecting event, contact lock not acquired",
			zap.String("botId", msg.BotId), zap.String("contactId", msg.ContactId), zap.Error(err))
		return model.Result{ErrorKind: model.ERROR_LOCK_TIMEOUT}
	}
	defer release()
	return c.process(ctx, msg)
}

func (c *Coordinator) process(ctx context.Context, msg model.InboundMessage) model.Result {
	cursor, err := c.cursors.Get(ctx, msg.BotId, msg.ContactId)
	if err != nil {
		logger.Error("error loading cursor", zap.String("botId", msg.BotId), zap.String("contactId", msg.ContactId), zap.Error(err))
		return model.Result{ErrorKind: model.ERROR_STORAGE}
	}
	contact, err := c.contacts.GetContact(ctx, msg.BotId, msg.ContactId)
	if err != nil {
		logger.Error("error loading contact", zap.String("botId", msg.BotId), zap.String("contactId", msg.ContactId), zap.Error(err))
		return model.Result{ErrorKind: model.ERROR_STORAGE}
	}
	if contact != nil && !contact.Subscribed {
		// Unsubscribed contacts get no automation; any in-flight flow
		// is abandoned.
		if cursor.Active() {
			if derr := c.cursors.Delete(ctx, msg.BotId, msg.ContactId); derr != nil {
				logger.Error("error deleting cursor", zap.Error(derr))
			}
		}
		return model.Result{Terminal: cursor.Active()}
	}

	firstContact := false
	if cursor == nil {
		hasHistory, herr := c.status.HasMessageHistory(ctx, msg.BotId, msg.ContactId)
		if herr != nil {
			logger.Warn("error checking message history", zap.Error(herr))
		}
		firstContact = !hasHistory
		cursor = model.NewExecutionCursor(msg.BotId, msg.ContactId)
	}
	if err := c.status.RecordIncoming(ctx, msg); err != nil {
		logger.Warn("error recording incoming message", zap.Error(err))
	}

	var g *graph.Graph
	resuming := false

	switch {
	case cursor.Active() && cursor.AwaitingInput:
		// Parked on an input halt: only a payload that explicitly
		// resolves to a block beats the resume. Anything else,
		// including a button token, is the answer to the halt; it
		// must never fall through to keyword or default matching.
		if msg.QuickReplyPayload != "" {
			if entry := c.matcher.ResolvePayload(ctx, msg.BotId, msg.QuickReplyPayload); entry != nil {
				g = entry.Graph
				cursor.GraphId = g.Id()
				cursor.CurrentNodeId = entry.NodeId
				cursor.AwaitingInput = false
				cursor.PendingResumeAt = nil
				break
			}
		}
		resuming = true
	case msg.QuickReplyPayload != "" || !cursor.Active() || cursor.PendingResumeAt == nil:
		entry, merr := c.matcher.Match(ctx, msg.BotId, msg.Text, msg.QuickReplyPayload, firstContact)
		if merr != nil {
			logger.Error("trigger matching failed", zap.String("botId", msg.BotId), zap.Error(merr))
			return model.Result{ErrorKind: model.ERROR_STORAGE}
		}
		if entry == nil {
			logger.Debug("no trigger matched, staying silent", zap.String("botId", msg.BotId), zap.String("text", msg.Text))
			return model.Result{}
		}
		g = entry.Graph
		cursor.GraphId = g.Id()
		cursor.CurrentNodeId = entry.NodeId
		cursor.AwaitingInput = false
		cursor.PendingResumeAt = nil
	default:
		// Active cursor with a pending delay and a plain message: the
		// message supersedes the delay and the walk continues from the
		// parked node.
	}

	if g == nil {
		// Resume path: reload the graph the cursor is parked in.
		resumed, rerr := c.graphs.ResolveBlock(ctx, msg.BotId, cursor.GraphId)
		if rerr != nil {
			logger.Error("cursor references unresolvable graph, abandoning flow",
				zap.String("botId", msg.BotId), zap.String("graphId", cursor.GraphId), zap.Error(rerr))
			if derr := c.cursors.Delete(ctx, msg.BotId, msg.ContactId); derr != nil {
				logger.Error("error deleting cursor", zap.Error(derr))
			}
			return model.Result{Terminal: true, ErrorKind: model.ERROR_VALIDATION}
		}
		g = resumed
		// A new message supersedes an in-flight delay; the persisted
		// version bump makes the scheduled task stale.
		cursor.PendingResumeAt = nil
	}

	text := msg.Text
	if resuming && msg.QuickReplyPayload != "" {
		text = msg.QuickReplyPayload
	}
	walkRes, walkErr := c.walker.Advance(ctx, g, cursor, contact, text, resuming)
	return c.finish(ctx, msg.BotId, msg.ContactId, walkRes, walkErr)
}

// finish dispatches a walk's actions and persists its cursor. Delivery
// failure aborts the rest of the batch but the cursor is still saved
// as if the walk completed; a fresh message resumes from there.
func (c *Coordinator) finish(ctx context.Context, botId, contactId string, walkRes *walker.WalkResult, walkErr error) model.Result {
	result := model.Result{Terminal: walkRes.Terminal}
	if walkErr != nil {
		result.ErrorKind = classifyWalkError(walkErr)
		logger.Error("walk halted with error", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(walkErr))
	}

	dispatched, derr := c.dispatch(ctx, botId, contactId, walkRes.Actions)
	result.ActionsDispatched = dispatched
	if derr != nil && result.ErrorKind == model.ERROR_NONE {
		result.ErrorKind = model.ERROR_DELIVERY
	}

	cursor := walkRes.Cursor
	if !cursor.Active() {
		// The run is over but bindings accumulate across the whole
		// conversation: keep the record with the position cleared.
		// Delete stays reserved for abandonment (unsubscribe,
		// deactivation, unresolvable graph).
		if _, err := c.cursors.Put(ctx, cursor); err != nil {
			logger.Error("error persisting cleared cursor", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(err))
			result.ErrorKind = model.ERROR_STORAGE
		}
		return result
	}

	version, err := c.cursors.Put(ctx, cursor)
	if err != nil {
		logger.Error("error persisting cursor", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(err))
		result.ErrorKind = model.ERROR_STORAGE
		return result
	}
	if cursor.PendingResumeAt != nil {
		task := model.DelayTask{
			Token:         uuid.New().String(),
			BotId:         botId,
			ContactId:     contactId,
			CursorVersion: version,
			ResumeAt:      *cursor.PendingResumeAt,
		}
		if err := c.delays.Push(ctx, task, time.Until(*cursor.PendingResumeAt)); err != nil {
			logger.Error("error scheduling delay resume", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(err))
			result.ErrorKind = model.ERROR_STORAGE
		}
	}
	return result
}

// dispatch sends actions strictly in emission order. Each send runs
// under its own timeout so a stuck channel cannot starve the contact
// lock.
func (c *Coordinator) dispatch(ctx context.Context, botId, contactId string, actions []model.OutboundAction) (int, error) {
	for i, action := range actions {
		if action.Type == model.ACTION_NOOP {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
		err := c.delivery.Send(sendCtx, botId, contactId, action)
		cancel()
		if err != nil {
			logger.Error("delivery failed, aborting remaining actions",
				zap.String("botId", botId), zap.String("contactId", contactId),
				zap.String("type", string(action.Type)), zap.Int("remaining", len(actions)-i-1), zap.Error(err))
			return i, channel.DeliveryError{ActionType: action.Type, Reason: err.Error()}
		}
	}
	return len(actions), nil
}

// TickDueDelays resumes every cursor whose delay has elapsed. The
// scheduler invokes it periodically; it is also the synchronous entry
// point exposed for operational use.
func (c *Coordinator) TickDueDelays(ctx context.Context) (int, error) {
	tasks, err := c.delays.PopDue(ctx, c.cfg.DelayPollBatch)
	if err != nil {
		return 0, err
	}
	var processed atomic.Int64
	group := new(errgroup.Group)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			if c.ResumeDelayed(ctx, task) {
				processed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(processed.Load()), nil
}

// ResumeDelayed performs one compare-and-resume: the task's pinned
// cursor version must still be current, otherwise a newer message
// already superseded the delay and the task is dropped.
func (c *Coordinator) ResumeDelayed(ctx context.Context, task model.DelayTask) bool {
	if c.deactivated.contains(task.BotId) {
		// Deactivation abandons the flow; drop the parked cursor so it
		// does not revive on reactivation.
		if derr := c.cursors.Delete(ctx, task.BotId, task.ContactId); derr != nil {
			logger.Error("error deleting cursor", zap.Error(derr))
		}
		return false
	}
	release, err := c.locks.Acquire(ctx, lockKey(task.BotId, task.ContactId), c.cfg.LockWaitTimeout)
	if err != nil {
		// Busy contact; put the task back and let the next tick retry.
		if perr := c.delays.Push(ctx, task, time.Second); perr != nil {
			logger.Error("error requeueing delay task", zap.String("botId", task.BotId), zap.Error(perr))
		}
		return false
	}
	defer release()

	cursor, err := c.cursors.Get(ctx, task.BotId, task.ContactId)
	if err != nil {
		logger.Error("error loading cursor for delayed resume", zap.String("botId", task.BotId), zap.Error(err))
		return false
	}
	if cursor == nil || !cursor.Active() || cursor.PendingResumeAt == nil || cursor.Version != task.CursorVersion {
		logger.Debug("dropping stale delay task",
			zap.String("botId", task.BotId), zap.String("contactId", task.ContactId), zap.Int64("version", task.CursorVersion))
		return false
	}
	cursor.PendingResumeAt = nil

	g, err := c.graphs.ResolveBlock(ctx, task.BotId, cursor.GraphId)
	if err != nil {
		logger.Error("delayed cursor references unresolvable graph, abandoning flow",
			zap.String("botId", task.BotId), zap.String("graphId", cursor.GraphId), zap.Error(err))
		if derr := c.cursors.Delete(ctx, task.BotId, task.ContactId); derr != nil {
			logger.Error("error deleting cursor", zap.Error(derr))
		}
		return false
	}
	contact, err := c.contacts.GetContact(ctx, task.BotId, task.ContactId)
	if err != nil {
		logger.Error("error loading contact for delayed resume", zap.Error(err))
		return false
	}
	walkRes, walkErr := c.walker.Advance(ctx, g, cursor, contact, "", false)
	c.finish(ctx, task.BotId, task.ContactId, walkRes, walkErr)
	return true
}

type deactivationSet struct {
	mu   sync.RWMutex
	bots map[string]struct{}
}

func newDeactivationSet() *deactivationSet {
	return &deactivationSet{bots: make(map[string]struct{})}
}

func (d *deactivationSet) add(botId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bots[botId] = struct{}{}
}

func (d *deactivationSet) remove(botId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bots, botId)
}

func (d *deactivationSet) contains(botId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.bots[botId]
	return ok
}

func classifyWalkError(err error) model.ErrorKind {
	var validation model.ValidationError
	var loopGuard model.LoopGuardError
	switch {
	case errors.As(err, &validation):
		return model.ERROR_VALIDATION
	case errors.As(err, &loopGuard):
		return model.ERROR_LOOP_GUARD
	default:
		return model.ERROR_VALIDATION
	}
}
