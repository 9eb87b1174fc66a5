package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger удаляет истекшие сессии.
type SessionPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// CacheCollector освобождает неиспользуемые записи кеша запросов.
type CacheCollector interface {
	Collect() int
}

// ToastExpirer удаляет уведомления с истекшим сроком жизни.
type ToastExpirer interface {
	Expire() int
}

// NavigationExpirer удаляет давно не забранные перенаправления.
type NavigationExpirer interface {
	Expire(maxAge time.Duration) int
}

// Housekeeping - зависимости и интервалы задач обслуживания.
type Housekeeping struct {
	Sessions   SessionPurger
	Cache      CacheCollector
	Toasts     ToastExpirer
	Navigation NavigationExpirer

	// PurgeSchedule - cron-расписание очистки сессий (по умолчанию "@every 10m").
	PurgeSchedule string
	// CollectEvery - интервал сборки кеша (по умолчанию 1m).
	CollectEvery time.Duration
	// ExpireEvery - интервал очистки уведомлений и перенаправлений (по умолчанию 30s).
	ExpireEvery time.Duration
	// NavigationMaxAge - сколько хранится не забранное перенаправление (по умолчанию 5m).
	NavigationMaxAge time.Duration

	Logger *slog.Logger
}

// Имена задач обслуживания.
const (
	JobPurgeSessions = "purge-sessions"
	JobCollectCache  = "collect-cache"
	JobExpireNotices = "expire-notices"
)

// RegisterHousekeeping добавляет задачи обслуживания портала. Задачи без
// зависимости (nil) не регистрируются.
func RegisterHousekeeping(s *Scheduler, h Housekeeping) error {
	if h.PurgeSchedule == "" {
		h.PurgeSchedule = "@every 10m"
	}
	if h.CollectEvery <= 0 {
		h.CollectEvery = time.Minute
	}
	if h.ExpireEvery <= 0 {
		h.ExpireEvery = 30 * time.Second
	}
	if h.NavigationMaxAge <= 0 {
		h.NavigationMaxAge = 5 * time.Minute
	}
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	var jobs []Job
	if h.Sessions != nil {
		jobs = append(jobs, Job{
			Name:     JobPurgeSessions,
			Schedule: h.PurgeSchedule,
			Timeout:  time.Minute,
			Overlap:  SkipIfRunning,
			Run: func(ctx context.Context) error {
				n, err := h.Sessions.Purge(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					log.InfoContext(ctx, "expired sessions purged", "count", n)
				}
				return nil
			},
		})
	}
	if h.Cache != nil {
		jobs = append(jobs, Job{
			Name:    JobCollectCache,
			Every:   h.CollectEvery,
			Overlap: SkipIfRunning,
			Run: func(ctx context.Context) error {
				if n := h.Cache.Collect(); n > 0 {
					log.DebugContext(ctx, "cache entries collected", "count", n)
				}
				return nil
			},
		})
	}
	if h.Toasts != nil || h.Navigation != nil {
		jobs = append(jobs, Job{
			Name:    JobExpireNotices,
			Every:   h.ExpireEvery,
			Overlap: SkipIfRunning,
			Run: func(ctx context.Context) error {
				var toasts, targets int
				if h.Toasts != nil {
					toasts = h.Toasts.Expire()
				}
				if h.Navigation != nil {
					targets = h.Navigation.Expire(h.NavigationMaxAge)
				}
				if toasts+targets > 0 {
					log.DebugContext(ctx, "notices expired", "toasts", toasts, "redirects", targets)
				}
				return nil
			},
		})
	}

	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}
