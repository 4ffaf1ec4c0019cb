package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbotio/flowbot/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// ConflictError is returned by CursorStore.Put when the stored cursor
// version no longer matches the one the caller read.
type ConflictError struct {
	BotId     string
	ContactId string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("cursor conflict for bot %s contact %s", e.BotId, e.ContactId)
}

// CursorStore persists execution cursors with compare-and-swap
// semantics. Get returns (nil, nil) when no cursor exists. Put bumps
// and returns the new version on success and fails with ConflictError
// when cursor.Version is stale.
type CursorStore interface {
	Get(ctx context.Context, botId, contactId string) (*model.ExecutionCursor, error)
	Put(ctx context.Context, cursor *model.ExecutionCursor) (int64, error)
	Delete(ctx context.Context, botId, contactId string) error
}

// GraphRepository serves the validated graphs the authoring system
// saved. The engine only reads; Save exists for seeding and for the
// authoring side sharing the store.
type GraphRepository interface {
	LoadEntryCandidates(ctx context.Context, botId string) ([]*model.FlowGraph, error)
	GetBlock(ctx context.Context, botId, blockId string) (*model.FlowGraph, error)
	GetDefaultFlow(ctx context.Context, botId string) (*model.FlowGraph, error)
	Save(ctx context.Context, graph *model.FlowGraph, isDefaultFlow bool) error
}

type ContactStore interface {
	GetContact(ctx context.Context, botId, contactId string) (*model.Contact, error)
	SaveContact(ctx context.Context, contact *model.Contact) error
}

// DelayQueue holds scheduled resume tasks ordered by due time.
type DelayQueue interface {
	Push(ctx context.Context, task model.DelayTask, delay time.Duration) error
	PopDue(ctx context.Context, batch int) ([]model.DelayTask, error)
}

// Storage bundles the per-backend implementations selected from
// config.
type Storage interface {
	Cursors() CursorStore
	Graphs() GraphRepository
	Contacts() ContactStore
	Delays() DelayQueue
	Close() error
}
