package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
	"github.com/flowbotio/flowbot/util"
	"go.uber.org/zap"
)

// DelayScheduler drives delayed-cursor resumption: a tick worker polls
// the delay queue and hands due tasks to a resume worker. Every resume
// still goes through the per-contact lock and the compare-and-resume
// version check inside the coordinator.
type DelayScheduler struct {
	coordinator *Coordinator
	delays      persistence.DelayQueue
	tick        *util.TickWorker
	resumes     *util.Worker
	batch       int
}

func NewDelayScheduler(coordinator *Coordinator, delays persistence.DelayQueue, tickSeconds, batch, queueCapacity int, wg *sync.WaitGroup) *DelayScheduler {
	if tickSeconds <= 0 {
		tickSeconds = 1
	}
	if batch <= 0 {
		batch = 100
	}
	s := &DelayScheduler{
		coordinator: coordinator,
		delays:      delays,
		batch:       batch,
	}
	s.resumes = util.NewWorker("delay-resume", wg, s.handleResume, queueCapacity)
	s.tick = util.NewTickWorker("delay-poll", tickSeconds, s.pump, wg)
	return s
}

func (s *DelayScheduler) Start() {
	s.resumes.Start()
	s.tick.Start()
}

func (s *DelayScheduler) Stop() error {
	s.tick.Stop()
	s.resumes.Stop()
	return nil
}

func (s *DelayScheduler) pump() {
	tasks, err := s.delays.PopDue(context.Background(), s.batch)
	if err != nil {
		logger.Error("error polling delay queue", zap.Error(err))
		return
	}
	for _, task := range tasks {
		s.resumes.Sender() <- task
	}
}

func (s *DelayScheduler) handleResume(t util.Task) error {
	task, ok := t.(model.DelayTask)
	if !ok {
		return fmt.Errorf("unexpected task type %T", t)
	}
	s.coordinator.ResumeDelayed(context.Background(), task)
	return nil
}
