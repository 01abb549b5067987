package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ErrSupervisorClosed 表示 Shutdown 之后不再接受新的后台任务。
var ErrSupervisorClosed = errors.New("supervisor closed")

// DefaultTaskTimeout 是单个后台任务的默认超时。
const DefaultTaskTimeout = 5 * time.Minute

// Supervisor 负责响应返回之后仍需完成的后台任务（缓存写入等）。
// 任务使用与请求解耦的 context，失败只记录日志与计数，不会重试，
// Shutdown 会等待所有已提交任务结束。
type Supervisor struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup

	scheduled atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// SupervisorStats 是后台任务计数快照。
type SupervisorStats struct {
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	InFlight  int64 `json:"in_flight"`
}

// NewSupervisor 创建后台任务监督者，timeout<=0 时使用 DefaultTaskTimeout。
func NewSupervisor(logger *logrus.Logger, timeout time.Duration) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Supervisor{logger: logger, timeout: timeout}
}

// Go 提交一个后台任务。fields 会附加到失败日志上，便于定位站点与缓存键。
func (s *Supervisor) Go(task string, fields logrus.Fields, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.rejected.Add(1)
		s.logger.WithFields(fields).WithField("task", task).Warn("background_task_rejected")
		return ErrSupervisorClosed
	}

	s.scheduled.Add(1)
	s.wg.Go(func() {
		s.run(task, fields, fn)
	})
	return nil
}

func (s *Supervisor) run(task string, fields logrus.Fields, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = fn(ctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	entry := s.logger.WithFields(fields).WithFields(logrus.Fields{
		"task":       task,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		s.failed.Add(1)
		entry.WithError(err).Error("background_task_failed")
		return
	}
	s.completed.Add(1)
	entry.Debug("background_task_complete")
}

// Wait 阻塞直到当前已提交的任务全部结束，主要用于测试。
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown 拒绝新任务并等待在途任务结束，ctx 到期时返回 ctx.Err()。
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回计数快照。
func (s *Supervisor) Stats() SupervisorStats {
	scheduled := s.scheduled.Load()
	completed := s.completed.Load()
	failed := s.failed.Load()
	return SupervisorStats{
		Scheduled: scheduled,
		Completed: completed,
		Failed:    failed,
		Rejected:  s.rejected.Load(),
		InFlight:  scheduled - completed - failed,
	}
}
