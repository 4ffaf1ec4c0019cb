package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const BLOCK_KEY string = "BLOCK"
const BLOCK_ORDER_KEY string = "BLOCK_ORDER"
const DEFAULT_FLOW_KEY string = "DEFAULT_FLOW"

var _ persistence.GraphRepository = new(redisGraphDao)

type redisGraphDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.FlowGraph]
}

func NewRedisGraphDao(conf Config) *redisGraphDao {
	return &redisGraphDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowGraph](),
	}
}

func newGraphDao(base baseDao) *redisGraphDao {
	return &redisGraphDao{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowGraph](),
	}
}

func (rg *redisGraphDao) Save(ctx context.Context, graph *model.FlowGraph, isDefaultFlow bool) error {
	data, err := rg.encoderDecoder.Encode(*graph)
	if err != nil {
		return err
	}
	if isDefaultFlow {
		key := rg.getNamespaceKey(DEFAULT_FLOW_KEY, graph.BotId)
		if err := rg.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		return nil
	}
	blockKey := rg.getNamespaceKey(BLOCK_KEY, graph.BotId)
	orderKey := rg.getNamespaceKey(BLOCK_ORDER_KEY, graph.BotId)
	_, err = rg.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, blockKey, graph.Id, data)
		pipe.ZAdd(ctx, orderKey, rd.Z{
			Score:  float64(graph.CreatedAt.UnixMilli()),
			Member: graph.Id,
		})
		return nil
	})
	if err != nil {
		logger.Error("error in saving block", zap.String("botId", graph.BotId), zap.String("blockId", graph.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// LoadEntryCandidates returns the bot's blocks ordered by creation
// time, the order the trigger matcher uses for deterministic
// tie-breaks.
func (rg *redisGraphDao) LoadEntryCandidates(ctx context.Context, botId string) ([]*model.FlowGraph, error) {
	orderKey := rg.getNamespaceKey(BLOCK_ORDER_KEY, botId)
	blockIds, err := rg.redisClient.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	candidates := make([]*model.FlowGraph, 0, len(blockIds))
	for _, blockId := range blockIds {
		block, err := rg.GetBlock(ctx, botId, blockId)
		if err != nil {
			logger.Warn("skipping unreadable block", zap.String("botId", botId), zap.String("blockId", blockId), zap.Error(err))
			continue
		}
		candidates = append(candidates, block)
	}
	return candidates, nil
}

func (rg *redisGraphDao) GetBlock(ctx context.Context, botId, blockId string) (*model.FlowGraph, error) {
	key := rg.getNamespaceKey(BLOCK_KEY, botId)
	val, err := rg.redisClient.HGet(ctx, key, blockId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("block %s not found for bot %s", blockId, botId)
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rg.encoderDecoder.Decode([]byte(val))
}

func (rg *redisGraphDao) GetDefaultFlow(ctx context.Context, botId string) (*model.FlowGraph, error) {
	key := rg.getNamespaceKey(DEFAULT_FLOW_KEY, botId)
	val, err := rg.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rg.encoderDecoder.Decode([]byte(val))
}
