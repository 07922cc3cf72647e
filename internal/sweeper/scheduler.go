package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает планировщик в отдельной горутине
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("starting sweeper scheduler", zap.Duration("interval", s.interval))
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop останавливает планировщик и ждёт завершения текущего прохода
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.log.Info("stopping sweeper scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Выполняем сразу при старте
	if err := s.sweeper.RunAll(ctx); err != nil {
		s.log.Error("initial sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := s.sweeper.RunAll(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			s.log.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.log.Info("sweeper cancelled")
			return
		}
	}
}
