// Package sqlite предоставляет инфраструктурные компоненты для работы с SQLite:
// открытие БД с PRAGMA настройками, встроенные миграции и тестовые хелперы.
//
// # Быстрый старт
//
//	db, err := sqlite.NewDB(ctx, "data/portal.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// # Миграции
//
// Миграции встраиваются в бинарник через embed.FS:
//
//	//go:embed migrations/sqlite/*.sql
//	var migrations embed.FS
//
//	_, err = sqlite.ApplyMigrationsFS(db, migrations, "migrations/sqlite")
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		tdb := sqlite.NewTestDBInMemory(t)
//		tdb.Migrate(t, migrations, "migrations/sqlite")
//	}
package sqlite
