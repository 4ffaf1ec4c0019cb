package redis

import (
	"context"
	"errors"

	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"
	rd "github.com/go-redis/redis/v9"
)

const CONTACT_KEY string = "CONTACT"

var _ persistence.ContactStore = new(redisContactDao)

type redisContactDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Contact]
}

func newContactDao(base baseDao) *redisContactDao {
	return &redisContactDao{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Contact](),
	}
}

func (rc *redisContactDao) GetContact(ctx context.Context, botId, contactId string) (*model.Contact, error) {
	key := rc.getNamespaceKey(CONTACT_KEY, botId)
	val, err := rc.redisClient.HGet(ctx, key, contactId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rc.encoderDecoder.Decode([]byte(val))
}

func (rc *redisContactDao) SaveContact(ctx context.Context, contact *model.Contact) error {
	key := rc.getNamespaceKey(CONTACT_KEY, contact.BotId)
	data, err := rc.encoderDecoder.Encode(*contact)
	if err != nil {
		return err
	}
	if err := rc.redisClient.HSet(ctx, key, []string{contact.Id, string(data)}).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
