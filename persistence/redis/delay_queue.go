package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const DELAY_KEY string = "DELAY"

var _ persistence.DelayQueue = new(redisDelayQueue)

// redisDelayQueue is a ZSET scored by resume due-time in millis.
type redisDelayQueue struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.DelayTask]
}

func NewRedisDelayQueue(conf Config) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.DelayTask](),
	}
}

func newDelayQueue(base baseDao) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.DelayTask](),
	}
}

func (rq *redisDelayQueue) Push(ctx context.Context, task model.DelayTask, delay time.Duration) error {
	queueName := rq.getNamespaceKey(DELAY_KEY)
	data, err := rq.encoderDecoder.Encode(task)
	if err != nil {
		return err
	}
	member := rd.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	}
	if err := rq.redisClient.ZAdd(ctx, queueName, member).Err(); err != nil {
		logger.Error("error while push to delay queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisDelayQueue) PopDue(ctx context.Context, batch int) ([]model.DelayTask, error) {
	queueName := rq.getNamespaceKey(DELAY_KEY)
	currentTime := time.Now().UnixMilli()
	opt := &rd.ZRangeBy{
		Min:   strconv.Itoa(0),
		Max:   strconv.FormatInt(currentTime, 10),
		Count: int64(batch),
	}
	res, err := rq.redisClient.ZRangeByScore(ctx, queueName, opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		logger.Error("error while pop from delay queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(res) == 0 {
		return nil, nil
	}
	// Remove only the members actually claimed; due tasks beyond the
	// batch stay queued for the next tick.
	members := make([]any, len(res))
	for i, raw := range res {
		members[i] = raw
	}
	if err := rq.redisClient.ZRem(ctx, queueName, members...).Err(); err != nil {
		logger.Error("error while removing claimed delay tasks", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	tasks := make([]model.DelayTask, 0, len(res))
	for _, raw := range res {
		task, err := rq.encoderDecoder.Decode([]byte(raw))
		if err != nil {
			logger.Warn("dropping undecodable delay task", zap.Error(err))
			continue
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}
