package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
)

var _ persistence.Storage = new(Storage)

// Storage is the in-process backend used in dev mode and unit tests.
// It honors the same compare-and-swap contract as the redis backend.
type Storage struct {
	mu       sync.Mutex
	cursors  map[string]*model.ExecutionCursor
	blocks   map[string][]*model.FlowGraph
	flows    map[string]*model.FlowGraph
	contacts map[string]*model.Contact
	delays   []delayEntry
}

type delayEntry struct {
	task  model.DelayTask
	dueAt time.Time
}

func NewStorage() *Storage {
	return &Storage{
		cursors:  make(map[string]*model.ExecutionCursor),
		blocks:   make(map[string][]*model.FlowGraph),
		flows:    make(map[string]*model.FlowGraph),
		contacts: make(map[string]*model.Contact),
	}
}

func (s *Storage) Cursors() persistence.CursorStore    { return (*cursorStore)(s) }
func (s *Storage) Graphs() persistence.GraphRepository { return (*graphRepo)(s) }
func (s *Storage) Contacts() persistence.ContactStore  { return (*contactStore)(s) }
func (s *Storage) Delays() persistence.DelayQueue      { return (*delayQueue)(s) }
func (s *Storage) Close() error                        { return nil }

func pairKey(botId, contactId string) string {
	return fmt.Sprintf("%s:%s", botId, contactId)
}

type cursorStore Storage

func (cs *cursorStore) Get(ctx context.Context, botId, contactId string) (*model.ExecutionCursor, error) {
	s := (*Storage)(cs)
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[pairKey(botId, contactId)]
	if !ok {
		return nil, nil
	}
	return cursor.Clone(), nil
}

func (cs *cursorStore) Put(ctx context.Context, cursor *model.ExecutionCursor) (int64, error) {
	s := (*Storage)(cs)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(cursor.BotId, cursor.ContactId)
	stored, exists := s.cursors[key]
	if exists {
		if stored.Version != cursor.Version {
			return 0, persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
		}
	} else if cursor.Version != 0 {
		return 0, persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
	}
	next := cursor.Clone()
	next.Version = cursor.Version + 1
	next.UpdatedAt = time.Now()
	s.cursors[key] = next
	return next.Version, nil
}

func (cs *cursorStore) Delete(ctx context.Context, botId, contactId string) error {
	s := (*Storage)(cs)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, pairKey(botId, contactId))
	return nil
}

type graphRepo Storage

func (gr *graphRepo) Save(ctx context.Context, graph *model.FlowGraph, isDefaultFlow bool) error {
	s := (*Storage)(gr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if isDefaultFlow {
		s.flows[graph.BotId] = graph
		return nil
	}
	for i, existing := range s.blocks[graph.BotId] {
		if existing.Id == graph.Id {
			s.blocks[graph.BotId][i] = graph
			return nil
		}
	}
	s.blocks[graph.BotId] = append(s.blocks[graph.BotId], graph)
	sort.SliceStable(s.blocks[graph.BotId], func(i, j int) bool {
		return s.blocks[graph.BotId][i].CreatedAt.Before(s.blocks[graph.BotId][j].CreatedAt)
	})
	return nil
}

func (gr *graphRepo) LoadEntryCandidates(ctx context.Context, botId string) ([]*model.FlowGraph, error) {
	s := (*Storage)(gr)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.FlowGraph, len(s.blocks[botId]))
	copy(out, s.blocks[botId])
	return out, nil
}

func (gr *graphRepo) GetBlock(ctx context.Context, botId, blockId string) (*model.FlowGraph, error) {
	s := (*Storage)(gr)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, block := range s.blocks[botId] {
		if block.Id == blockId {
			return block, nil
		}
	}
	if flow, ok := s.flows[botId]; ok && flow.Id == blockId {
		return flow, nil
	}
	return nil, fmt.Errorf("block %s not found for bot %s", blockId, botId)
}

func (gr *graphRepo) GetDefaultFlow(ctx context.Context, botId string) (*model.FlowGraph, error) {
	s := (*Storage)(gr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flows[botId], nil
}

type contactStore Storage

func (cs *contactStore) GetContact(ctx context.Context, botId, contactId string) (*model.Contact, error) {
	s := (*Storage)(cs)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacts[pairKey(botId, contactId)], nil
}

func (cs *contactStore) SaveContact(ctx context.Context, contact *model.Contact) error {
	s := (*Storage)(cs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[pairKey(contact.BotId, contact.Id)] = contact
	return nil
}

type delayQueue Storage

func (dq *delayQueue) Push(ctx context.Context, task model.DelayTask, delay time.Duration) error {
	s := (*Storage)(dq)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, delayEntry{task: task, dueAt: time.Now().Add(delay)})
	sort.SliceStable(s.delays, func(i, j int) bool {
		return s.delays[i].dueAt.Before(s.delays[j].dueAt)
	})
	return nil
}

func (dq *delayQueue) PopDue(ctx context.Context, batch int) ([]model.DelayTask, error) {
	s := (*Storage)(dq)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var due []model.DelayTask
	var remaining []delayEntry
	for _, entry := range s.delays {
		if len(due) < batch && !entry.dueAt.After(now) {
			due = append(due, entry.task)
		} else {
			remaining = append(remaining, entry)
		}
	}
	s.delays = remaining
	return due, nil
}
