// Package scheduler запускает периодические задачи обслуживания портала.
//
// Поддерживаются два вида задач:
//   - cron-задачи (Job.Schedule), например "@every 10m" или "0 */5 * * * *";
//   - ticker-задачи с фиксированным интервалом (Job.Every).
//
// Политика SkipIfRunning пропускает тик, если предыдущее выполнение еще идет.
// Паника в задаче перехватывается и логируется как ошибка, планировщик продолжает работу.
//
// # Задачи обслуживания
//
// RegisterHousekeeping регистрирует стандартный набор:
//   - purge-sessions: удаление истекших сессий (cron, по умолчанию каждые 10 минут);
//   - collect-cache: сборка неиспользуемых записей кеша запросов (каждую минуту);
//   - expire-notices: удаление просроченных уведомлений и перенаправлений (каждые 30 секунд).
//
// # Пример
//
//	s := scheduler.NewWithContext(ctx, scheduler.Config{Logger: log})
//	if err := scheduler.RegisterHousekeeping(s, scheduler.Housekeeping{
//		Sessions: authManager,
//		Cache:    cache,
//		Toasts:   toasts,
//	}); err != nil {
//		return err
//	}
//	s.Start()
//	defer s.Stop()
package scheduler
