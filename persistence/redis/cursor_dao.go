package redis

import (
	"context"
	"errors"
	"time"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const CURSOR_KEY string = "CURSOR"

var _ persistence.CursorStore = new(redisCursorDao)

// redisCursorDao keeps one string key per (bot, contact) so WATCH gives
// key-granular compare-and-swap for the cursor version.
type redisCursorDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.ExecutionCursor]
}

func NewRedisCursorDao(conf Config) *redisCursorDao {
	return &redisCursorDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.ExecutionCursor](),
	}
}

func newCursorDao(base baseDao) *redisCursorDao {
	return &redisCursorDao{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.ExecutionCursor](),
	}
}

func (rc *redisCursorDao) cursorKey(botId, contactId string) string {
	return rc.getNamespaceKey(CURSOR_KEY, botId, contactId)
}

func (rc *redisCursorDao) Get(ctx context.Context, botId, contactId string) (*model.ExecutionCursor, error) {
	val, err := rc.redisClient.Get(ctx, rc.cursorKey(botId, contactId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		logger.Error("error in getting cursor", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	cursor, err := rc.encoderDecoder.Decode([]byte(val))
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (rc *redisCursorDao) Put(ctx context.Context, cursor *model.ExecutionCursor) (int64, error) {
	key := rc.cursorKey(cursor.BotId, cursor.ContactId)
	newVersion := cursor.Version + 1
	txf := func(tx *rd.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}
		if err == nil {
			stored, derr := rc.encoderDecoder.Decode([]byte(val))
			if derr != nil {
				return derr
			}
			if stored.Version != cursor.Version {
				return persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
			}
		} else if cursor.Version != 0 {
			return persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
		}
		next := cursor.Clone()
		next.Version = newVersion
		next.UpdatedAt = time.Now()
		data, err := rc.encoderDecoder.Encode(*next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	err := rc.redisClient.Watch(ctx, txf, key)
	if err != nil {
		var conflict persistence.ConflictError
		if errors.As(err, &conflict) {
			return 0, conflict
		}
		if errors.Is(err, rd.TxFailedErr) {
			return 0, persistence.ConflictError{BotId: cursor.BotId, ContactId: cursor.ContactId}
		}
		logger.Error("error in saving cursor", zap.String("botId", cursor.BotId), zap.String("contactId", cursor.ContactId), zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return newVersion, nil
}

func (rc *redisCursorDao) Delete(ctx context.Context, botId, contactId string) error {
	if err := rc.redisClient.Del(ctx, rc.cursorKey(botId, contactId)).Err(); err != nil {
		logger.Error("error in deleting cursor", zap.String("botId", botId), zap.String("contactId", contactId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
