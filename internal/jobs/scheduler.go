// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: очистка кэша, удаление
// неиспользуемых блокировок и проверка остатков на складе.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/features/shop"
)

// Расписание задач.
const (
	CacheCleanupSpec = "*/5 * * * *"
	LockPruneSpec    = "*/10 * * * *"
	LowStockSpec     = "0 * * * *"
)

// Cleaner удаляет истёкшие записи кэша.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Pruner удаляет блокировки, которые давно никто не брал.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Catalog - то, что нужно проверке остатков.
type Catalog interface {
	ListProducts(ctx context.Context) ([]shop.Product, error)
	StockCount(ctx context.Context, code string) (int, error)
}

// Settings - параметры задач.
type Settings struct {
	LockIdleTTL       time.Duration
	LowStockThreshold int
	Location          *time.Location
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	cache    Cleaner
	locks    Pruner
	catalog  Catalog
	report   func(text string)
	settings Settings
}

// NewScheduler создаёт планировщик. report получает отчёт о товарах,
// которые заканчиваются; nil - только лог.
func NewScheduler(c Cleaner, l Pruner, catalog Catalog, report func(text string), s Settings) *Scheduler {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.LockIdleTTL <= 0 {
		s.LockIdleTTL = 30 * time.Minute
	}
	if s.LowStockThreshold <= 0 {
		s.LowStockThreshold = 10
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(s.Location)),
		cache:    c,
		locks:    l,
		catalog:  catalog,
		report:   report,
		settings: s,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		fn   func()
	}{
		{CacheCleanupSpec, func() { s.CleanupCache(ctx) }},
		{LockPruneSpec, func() { s.PruneLocks() }},
		{LowStockSpec, func() { s.CheckLowStock(ctx) }},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("ошибка расписания %q: %w", j.spec, err)
		}
	}

	s.cron.Start()
	log.WithField("location", s.settings.Location.String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// CleanupCache удаляет истёкшие записи кэша.
func (s *Scheduler) CleanupCache(ctx context.Context) {
	if err := s.cache.Cleanup(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка очистки кэша")
		return
	}
	log.Debug("[CRON] Кэш очищен")
}

// PruneLocks удаляет неиспользуемые блокировки.
func (s *Scheduler) PruneLocks() int {
	n := s.locks.Prune(s.settings.LockIdleTTL)
	if n > 0 {
		log.WithField("removed", n).Debug("[CRON] Удалены неиспользуемые блокировки")
	}
	return n
}

// CheckLowStock находит товары, которых осталось меньше порога,
// и отправляет отчёт. Возвращает коды таких товаров.
func (s *Scheduler) CheckLowStock(ctx context.Context) []string {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка чтения каталога")
		return nil
	}

	var low []string
	var sb strings.Builder
	for _, p := range products {
		n, err := s.catalog.StockCount(ctx, p.Code)
		if err != nil {
			log.WithError(err).WithField("code", p.Code).Error("[CRON] Ошибка подсчёта остатка")
			continue
		}
		if n >= s.settings.LowStockThreshold {
			continue
		}
		low = append(low, p.Code)
		fmt.Fprintf(&sb, "\n• %s (%s): осталось %d", p.Name, p.Code, n)
	}

	if len(low) == 0 {
		return nil
	}
	log.WithField("products", low).Warn("[CRON] Товары заканчиваются")
	if s.report != nil {
		s.report("⚠️ Заканчиваются товары:" + sb.String())
	}
	return low
}
