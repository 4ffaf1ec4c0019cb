package redis

import (
	"github.com/flowbotio/flowbot/persistence"
)

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	cursors  *redisCursorDao
	graphs   *redisGraphDao
	contacts *redisContactDao
	delays   *redisDelayQueue
	base     *baseDao
}

func NewRedisStorage(conf Config) *redisStorage {
	base := newBaseDao(conf)
	return &redisStorage{
		cursors:  newCursorDao(*base),
		graphs:   newGraphDao(*base),
		contacts: newContactDao(*base),
		delays:   newDelayQueue(*base),
		base:     base,
	}
}

func (s *redisStorage) Cursors() persistence.CursorStore    { return s.cursors }
func (s *redisStorage) Graphs() persistence.GraphRepository { return s.graphs }
func (s *redisStorage) Contacts() persistence.ContactStore  { return s.contacts }
func (s *redisStorage) Delays() persistence.DelayQueue      { return s.delays }

func (s *redisStorage) Close() error {
	return s.base.redisClient.Close()
}
