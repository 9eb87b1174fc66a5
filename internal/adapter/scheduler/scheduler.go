package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medportal/internal/shared"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельное выполнение задач.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает выполнение, если задача уже запущена.
	SkipIfRunning
)

func (p OverlapPolicy) String() string {
	if p == SkipIfRunning {
		return "skip_if_running"
	}
	return "allow_overlap"
}

// Job описывает периодическую задачу. Задается ровно одно из Schedule (cron)
// или Every (ticker).
type Job struct {
	// Name - уникальное имя задачи, используется в логах и хуках.
	Name string
	// Schedule - cron-расписание, например "@every 10m" или "0 */5 * * * *".
	Schedule string
	// Every - интервал ticker-задачи.
	Every time.Duration
	// Timeout - максимальное время одного выполнения (необязательно).
	Timeout time.Duration
	// Overlap - политика обработки перекрывающихся выполнений.
	Overlap OverlapPolicy
	// Run - сама задача.
	Run JobFunc
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// registered - зарегистрированная задача и её состояние.
type registered struct {
	job     Job
	running sync.Mutex // для контроля перекрытий
	cronID  cron.EntryID
	cancel  context.CancelFunc // только для ticker-задач
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Scheduler управляет периодическими задачами обслуживания.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	hooks  JobHooks
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*registered
	started   bool
	stopOnce  sync.Once
	startOnce sync.Once
}

// New создает планировщик с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает планировщик; отмена parentCtx останавливает его.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	// Парсер принимает и 5, и 6 полей, а также дескрипторы вида @every
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{logger: logger})),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*registered),
	}
}

// Add регистрирует задачу. Ticker-задачи, добавленные после Start, сразу начинают тикать.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no Run func", job.Name)
	}
	if (job.Schedule == "") == (job.Every <= 0) {
		return fmt.Errorf("scheduler: job %q needs exactly one of Schedule or Every", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}

	r := &registered{job: job}
	if job.Schedule != "" {
		id, err := s.cron.AddFunc(job.Schedule, func() { s.run(r) })
		if err != nil {
			s.logger.Error("failed to add cron job", "name", job.Name, "schedule", job.Schedule, "error", err)
			return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
		}
		r.cronID = id
		s.logger.Info("cron job added", "name", job.Name, "schedule", job.Schedule, "overlap_policy", job.Overlap.String())
	} else {
		if s.started {
			s.startTickerLocked(r)
		}
		s.logger.Info("ticker job added", "name", job.Name, "interval", job.Every, "overlap_policy", job.Overlap.String())
	}
	s.jobs[job.Name] = r
	return nil
}

// Remove удаляет задачу по имени.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.jobs[name]
	if !ok {
		return false
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.cronID != 0 {
		s.cron.Remove(r.cronID)
	}
	delete(s.jobs, name)
	s.logger.Info("job removed", "name", name)
	return true
}

// Jobs возвращает имена зарегистрированных задач в алфавитном порядке.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow синхронно выполняет задачу по имени с учетом её политики перекрытий.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	r, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(r)
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.mu.Lock()
		s.started = true
		for _, r := range s.jobs {
			if r.job.Every > 0 {
				s.startTickerLocked(r)
			}
		}
		s.mu.Unlock()
		s.cron.Start()

		// Отмена родительского контекста тоже останавливает планировщик
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

func (s *Scheduler) startTickerLocked(r *registered) {
	ctx, cancel := context.WithCancel(s.ctx)
	r.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(r.job.Every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.run(r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop останавливает планировщик и ждет завершения всех задач.
func (s *Scheduler) Stop() {
	_ = s.StopContext(context.Background())
}

// StopContext останавливает планировщик с учетом контекста дедлайна.
// Если дедлайн истекает раньше, возвращается ошибка, но остановка все равно завершается.
func (s *Scheduler) StopContext(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}
	s.logger.Info("stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, waiting for running jobs")
		<-done
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку.
func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}

// run выполняет задачу с учетом её опций. Паника превращается в ошибку.
func (s *Scheduler) run(r *registered) (err error) {
	name := r.job.Name
	if r.job.Overlap == SkipIfRunning {
		if !r.running.TryLock() {
			s.logger.Debug("skipping job execution, already running", "name", name)
			return nil
		}
		defer r.running.Unlock()
	}

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	ctx := s.ctx
	if r.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %w", name, shared.Ensure(rec))
		}
		duration := time.Since(start)
		if s.hooks.OnJobFinish != nil {
			s.hooks.OnJobFinish(name, duration, err)
		}
		if err != nil {
			s.logger.Error("job failed", "name", name, "error", err, "duration", duration)
			return
		}
		s.logger.Debug("job completed", "name", name, "duration", duration)
	}()

	return r.job.Run(ctx)
}
