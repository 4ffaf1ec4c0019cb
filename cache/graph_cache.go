package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowbotio/flowbot/graph"
	"github.com/flowbotio/flowbot/persistence"
	c "github.com/patrickmn/go-cache"
)

// GraphCache compiles graphs on first use and keeps them hot until the
// TTL expires or the authoring side invalidates the bot. It fronts the
// GraphRepository for every execution-time lookup.
type GraphCache struct {
	repo  persistence.GraphRepository
	cache *c.Cache
	ttl   time.Duration
}

func NewGraphCache(repo persistence.GraphRepository, ttl time.Duration) *GraphCache {
	return &GraphCache{
		repo:  repo,
		cache: c.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func blockKey(botId, blockId string) string {
	return fmt.Sprintf("block:%s:%s", botId, blockId)
}

func candidatesKey(botId string) string {
	return fmt.Sprintf("candidates:%s", botId)
}

func flowKey(botId string) string {
	return fmt.Sprintf("flow:%s", botId)
}

// ResolveBlock returns the compiled graph for a block id, looking at
// the bot's default flow as well so goToBlock can target either.
func (gc *GraphCache) ResolveBlock(ctx context.Context, botId, blockId string) (*graph.Graph, error) {
	if cached, found := gc.cache.Get(blockKey(botId, blockId)); found {
		return cached.(*graph.Graph), nil
	}
	def, err := gc.repo.GetBlock(ctx, botId, blockId)
	if err != nil {
		return nil, err
	}
	compiled, err := graph.Compile(def)
	if err != nil {
		return nil, err
	}
	gc.cache.Set(blockKey(botId, blockId), compiled, gc.ttl)
	return compiled, nil
}

// EntryCandidates returns the bot's compiled trigger-bearing blocks in
// creation order. Blocks that fail to compile are skipped; a broken
// block must not take the rest of the bot down.
func (gc *GraphCache) EntryCandidates(ctx context.Context, botId string) ([]*graph.Graph, error) {
	if cached, found := gc.cache.Get(candidatesKey(botId)); found {
		return cached.([]*graph.Graph), nil
	}
	defs, err := gc.repo.LoadEntryCandidates(ctx, botId)
	if err != nil {
		return nil, err
	}
	compiled := make([]*graph.Graph, 0, len(defs))
	for _, def := range defs {
		g, err := graph.Compile(def)
		if err != nil {
			continue
		}
		compiled = append(compiled, g)
		gc.cache.Set(blockKey(botId, def.Id), g, gc.ttl)
	}
	gc.cache.Set(candidatesKey(botId), compiled, gc.ttl)
	return compiled, nil
}

// DefaultFlow returns the bot's compiled default flow, nil when the
// bot has none.
func (gc *GraphCache) DefaultFlow(ctx context.Context, botId string) (*graph.Graph, error) {
	if cached, found := gc.cache.Get(flowKey(botId)); found {
		if cached == nil {
			return nil, nil
		}
		return cached.(*graph.Graph), nil
	}
	def, err := gc.repo.GetDefaultFlow(ctx, botId)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}
	compiled, err := graph.Compile(def)
	if err != nil {
		return nil, err
	}
	gc.cache.Set(flowKey(botId), compiled, gc.ttl)
	gc.cache.Set(blockKey(botId, def.Id), compiled, gc.ttl)
	return compiled, nil
}

// Invalidate drops every cached graph for a bot. The authoring side
// calls it after saving.
func (gc *GraphCache) Invalidate(botId string) {
	gc.cache.Delete(candidatesKey(botId))
	gc.cache.Delete(flowKey(botId))
	prefix := fmt.Sprintf("block:%s:", botId)
	for key := range gc.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			gc.cache.Delete(key)
		}
	}
}
