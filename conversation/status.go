package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbotio/flowbot/model"
	c "github.com/patrickmn/go-cache"
)

// Status is the engine's view of the conversation ledger: the
// human-takeover flag, the incoming-message record, and whether the
// contact has any message history (used for welcome-block matching).
// The ledger owns the schema; the engine only reads and writes these
// flags.
type Status interface {
	IsHumanTakeover(ctx context.Context, botId, contactId string) (bool, error)
	RecordIncoming(ctx context.Context, msg model.InboundMessage) error
	HasMessageHistory(ctx context.Context, botId, contactId string) (bool, error)
}

var _ Status = new(CachedStatus)

// CachedStatus is the in-process ledger used in dev mode and tests.
type CachedStatus struct {
	takeover *c.Cache
	history  *c.Cache
}

func NewCachedStatus() *CachedStatus {
	return &CachedStatus{
		takeover: c.New(c.NoExpiration, 10*time.Minute),
		history:  c.New(c.NoExpiration, 10*time.Minute),
	}
}

func pairKey(botId, contactId string) string {
	return fmt.Sprintf("%s:%s", botId, contactId)
}

func (s *CachedStatus) IsHumanTakeover(ctx context.Context, botId, contactId string) (bool, error) {
	_, found := s.takeover.Get(pairKey(botId, contactId))
	return found, nil
}

func (s *CachedStatus) SetHumanTakeover(botId, contactId string, on bool) {
	key := pairKey(botId, contactId)
	if on {
		s.takeover.Set(key, true, c.NoExpiration)
	} else {
		s.takeover.Delete(key)
	}
}

func (s *CachedStatus) RecordIncoming(ctx context.Context, msg model.InboundMessage) error {
	key := pairKey(msg.BotId, msg.ContactId)
	var msgs []model.InboundMessage
	if stored, found := s.history.Get(key); found {
		msgs = stored.([]model.InboundMessage)
	}
	s.history.Set(key, append(msgs, msg), c.NoExpiration)
	return nil
}

func (s *CachedStatus) HasMessageHistory(ctx context.Context, botId, contactId string) (bool, error) {
	_, found := s.history.Get(pairKey(botId, contactId))
	return found, nil
}
