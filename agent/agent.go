package agent

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/flowbotio/flowbot/cache"
	"github.com/flowbotio/flowbot/channel"
	"github.com/flowbotio/flowbot/config"
	"github.com/flowbotio/flowbot/conversation"
	"github.com/flowbotio/flowbot/engine"
	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/matcher"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/persistence/inmem"
	redisstore "github.com/flowbotio/flowbot/persistence/redis"
	sqlitestore "github.com/flowbotio/flowbot/persistence/sqlite"
	"github.com/flowbotio/flowbot/rest"
	"github.com/flowbotio/flowbot/service"
	"github.com/flowbotio/flowbot/walker"
	"go.uber.org/zap"
)

type Agent struct {
	Config           config.Config
	storage          persistence.Storage
	graphCache       *cache.GraphCache
	coordinator      *engine.Coordinator
	scheduler        *engine.DelayScheduler
	executionService *service.ExecutionService
	httpServer       *rest.Server
	shutdown         bool
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupEngine,
		a.setupScheduler,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.storage = redisstore.NewRedisStorage(redisstore.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
	case config.STORAGE_TYPE_SQLITE:
		storage, err := sqlitestore.NewStorage(a.Config.SqliteConfig.Path)
		if err != nil {
			return err
		}
		a.storage = storage
	case config.STORAGE_TYPE_INMEM:
		a.storage = inmem.NewStorage()
	default:
		return fmt.Errorf("unknown storage type %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupEngine() error {
	a.graphCache = cache.NewGraphCache(a.storage.Graphs(), a.Config.GraphCacheTTL)
	m := matcher.NewMatcher(a.graphCache)
	w := walker.NewWalker(a.graphCache, a.Config.MaxSteps)
	a.coordinator = engine.NewCoordinator(
		a.Config,
		a.storage,
		a.graphCache,
		m,
		w,
		channel.NewLogDelivery(),
		conversation.NewCachedStatus(),
	)
	a.executionService = service.NewExecutionService(a.coordinator, a.storage.Cursors())
	return nil
}

func (a *Agent) setupScheduler() error {
	a.scheduler = engine.NewDelayScheduler(
		a.coordinator,
		a.storage.Delays(),
		a.Config.DelayTickSeconds,
		a.Config.DelayPollBatch,
		a.Config.ResumeWorkerQueue,
		&a.wg,
	)
	a.scheduler.Start()
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.executionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		a.scheduler.Stop,
		a.storage.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
