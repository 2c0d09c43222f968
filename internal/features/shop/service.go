// Package shop - service.go содержит бизнес-логику каталога и склада.
package shop

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

const keyAllProducts = "all_products"
const keyWorldInfo = "world_info"

func keyProduct(code string) string    { return "product_" + code }
func keyStockCount(code string) string { return "stock_count_" + code }
func keyStock(code string) string      { return "stock_" + code }

// Settings - сроки жизни записей каталога в кэше.
type Settings struct {
	ShortTTL  time.Duration
	MediumTTL time.Duration
	LongTTL   time.Duration
}

// Service управляет каталогом и складом.
type Service struct {
	repo     Store
	cache    *cache.Cache
	locks    *locks.Registry
	notifier notify.Emitter
	settings Settings
}

// NewService создаёт сервис каталога.
func NewService(repo Store, c *cache.Cache, l *locks.Registry, n notify.Emitter, s Settings) *Service {
	if s.ShortTTL <= 0 {
		s.ShortTTL = cache.TTLShort
	}
	if s.MediumTTL <= 0 {
		s.MediumTTL = cache.TTLMedium
	}
	if s.LongTTL <= 0 {
		s.LongTTL = cache.TTLLong
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{repo: repo, cache: c, locks: l, notifier: n, settings: s}
}

// NormalizeCode приводит код товара к каноническому виду.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, ok := s.locks.Acquire(ctx, key, 0)
	if !ok {
		return nil, common.Errorf(common.ErrLockAcquisitionFailed, "%s", key)
	}
	return release, nil
}

func (s *Service) fail(ctx context.Context, op string, err error) error {
	log.WithError(err).WithField("op", op).Error("Ошибка операции каталога")
	s.notifier.Emit(ctx, notify.OperationFailed, notify.Failure{Op: op, Err: err.Error()})
	return common.Wrap(common.ErrTransactionFailed, err, op)
}

func (s *Service) invalidateStock(ctx context.Context, code string) {
	if err := s.cache.DeleteMany(ctx, keyStockCount(code), keyStock(code)); err != nil {
		log.WithError(err).WithField("code", code).Warn("Не удалось сбросить кэш склада")
	}
}

// CreateProduct добавляет товар в каталог.
func (s *Service) CreateProduct(ctx context.Context, code, name string, price int64, description string) (Product, error) {
	code = NormalizeCode(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Product{}, common.Errorf(common.ErrInvalidPrice, "нужны код и название товара")
	}
	if price < MinPrice || price > MaxPrice {
		return Product{}, common.Errorf(common.ErrInvalidPrice, "цена должна быть от %d до %d WL", MinPrice, MaxPrice)
	}

	release, err := s.lock(ctx, "product_create_"+code)
	if err != nil {
		return Product{}, err
	}
	defer release()

	p, err := s.repo.CreateProduct(ctx, Product{Code: code, Name: name, Price: price, Description: strings.TrimSpace(description)})
	if errors.Is(err, ErrDuplicate) {
		return Product{}, common.Errorf(common.ErrProductExists, "%s", code)
	}
	if err != nil {
		return Product{}, s.fail(ctx, "create_product", err)
	}

	if err := s.cache.Set(ctx, keyProduct(code), p, s.settings.MediumTTL, false); err != nil {
		log.WithError(err).Warn("Не удалось закэшировать товар")
	}
	if err := s.cache.Delete(ctx, keyAllProducts); err != nil {
		log.WithError(err).Warn("Не удалось сбросить кэш каталога")
	}

	log.WithFields(log.Fields{"code": code, "price": price}).Info("Товар создан")
	s.notifier.Emit(ctx, notify.ProductCreated, notify.ProductInfo{Code: p.Code, Name: p.Name, Price: p.Price})
	return p, nil
}

// GetProduct возвращает товар по коду.
func (s *Service) GetProduct(ctx context.Context, code string) (Product, error) {
	code = NormalizeCode(code)

	var p Product
	err := s.cache.Fetch(ctx, keyProduct(code), s.settings.MediumTTL, &p, func(ctx context.Context) (any, error) {
		p, found, err := s.repo.Product(ctx, code)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "поиск товара")
		}
		if !found {
			return nil, common.Errorf(common.ErrProductNotFound, "%s", code)
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// ListProducts возвращает весь каталог, упорядоченный по коду.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	err := s.cache.Fetch(ctx, keyAllProducts, s.settings.ShortTTL, &products, func(ctx context.Context) (any, error) {
		list, err := s.repo.Products(ctx)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "чтение каталога")
		}
		if list == nil {
			list = []Product{}
		}
		return list, nil
	})
	return products, err
}

// AddStock кладёт на склад единицы товара. Пустые строки пропускаются.
// Возвращает количество добавленных единиц.
func (s *Service) AddStock(ctx context.Context, code string, contents []string, addedBy string) (int, error) {
	code = NormalizeCode(code)

	items := make([]string, 0, len(contents))
	for _, c := range contents {
		if c = strings.TrimSpace(c); c != "" {
			items = append(items, c)
		}
	}
	if len(items) == 0 {
		return 0, common.Errorf(common.ErrInvalidAmount, "нет единиц товара для добавления")
	}

	release, err := s.lock(ctx, "stock_add_"+code)
	if err != nil {
		return 0, err
	}
	defer release()

	if _, err := s.GetProduct(ctx, code); err != nil {
		return 0, err
	}

	summary, err := s.repo.Summary(ctx, code)
	if err != nil {
		return 0, s.fail(ctx, "add_stock", err)
	}
	if summary.Available+len(items) > MaxStock {
		return 0, common.Errorf(common.ErrStockLimit, "на складе %d, лимит %d", summary.Available, MaxStock)
	}

	n, err := s.repo.InsertStock(ctx, code, items, addedBy)
	if err != nil {
		return 0, s.fail(ctx, "add_stock", err)
	}
	s.invalidateStock(ctx, code)

	log.WithFields(log.Fields{"code": code, "quantity": n, "added_by": addedBy}).Info("Склад пополнен")
	s.notifier.Emit(ctx, notify.StockAdded, notify.StockInfo{ProductCode: code, Quantity: n, AddedBy: addedBy})
	return n, nil
}

// StockCount возвращает количество доступных единиц товара.
func (s *Service) StockCount(ctx context.Context, code string) (int, error) {
	code = NormalizeCode(code)

	var n int
	err := s.cache.Fetch(ctx, keyStockCount(code), s.settings.ShortTTL, &n, func(ctx context.Context) (any, error) {
		summary, err := s.repo.Summary(ctx, code)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "подсчёт склада")
		}
		return summary.Available, nil
	})
	return n, err
}

// StockSummary возвращает количество единиц товара по статусам.
func (s *Service) StockSummary(ctx context.Context, code string) (Summary, error) {
	code = NormalizeCode(code)

	var sum Summary
	err := s.cache.Fetch(ctx, keyStock(code), s.settings.ShortTTL, &sum, func(ctx context.Context) (any, error) {
		summary, err := s.repo.Summary(ctx, code)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "подсчёт склада")
		}
		return summary, nil
	})
	return sum, err
}

// AvailableStock возвращает quantity самых старых доступных единиц.
// Если столько нет - ErrInsufficientStock. Всегда читает из БД.
func (s *Service) AvailableStock(ctx context.Context, code string, quantity int) ([]Unit, error) {
	code = NormalizeCode(code)
	if quantity < 1 {
		return nil, common.Errorf(common.ErrInvalidAmount, "количество должно быть положительным")
	}

	units, err := s.repo.Available(ctx, code, quantity)
	if err != nil {
		return nil, common.Wrap(common.ErrTransactionFailed, err, "чтение склада")
	}
	if len(units) < quantity {
		return nil, common.Errorf(common.ErrInsufficientStock, "доступно %d из %d", len(units), quantity)
	}
	return units, nil
}

func unitIDs(units []Unit) []int64 {
	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

// MarkSold переводит единицы товара code в статус sold с покупателем buyer.
// Если кто-то успел их забрать - ErrInsufficientStock, ничего не меняется.
func (s *Service) MarkSold(ctx context.Context, code string, units []Unit, buyer string) error {
	code = NormalizeCode(code)

	release, err := s.lock(ctx, "stock_update_"+code)
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.Move(ctx, unitIDs(units), StatusAvailable, StatusSold, buyer)
	if errors.Is(err, ErrMoved) {
		return common.Errorf(common.ErrInsufficientStock, "товар %s только что купили", code)
	}
	if err != nil {
		return s.fail(ctx, "mark_sold", err)
	}
	s.invalidateStock(ctx, code)
	return nil
}

// Restore возвращает проданные единицы на склад. Используется только
// для отката покупки, баланс которой не удалось списать.
func (s *Service) Restore(ctx context.Context, code string, units []Unit) error {
	code = NormalizeCode(code)

	release, err := s.lock(ctx, "stock_update_"+code)
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.Move(ctx, unitIDs(units), StatusSold, StatusAvailable, "")
	if errors.Is(err, ErrMoved) {
		return common.Errorf(common.ErrInvalidStockState, "не все единицы %s в статусе sold", code)
	}
	if err != nil {
		return s.fail(ctx, "restore_stock", err)
	}
	s.invalidateStock(ctx, code)
	return nil
}

func (s *Service) unit(ctx context.Context, id int64) (Unit, error) {
	u, found, err := s.repo.Unit(ctx, id)
	if err != nil {
		return Unit{}, s.fail(ctx, "update_stock_status", err)
	}
	if !found {
		return Unit{}, common.Errorf(common.ErrStockNotFound, "#%d", id)
	}
	return u, nil
}

// UpdateStockStatus меняет статус одной единицы товара.
func (s *Service) UpdateStockStatus(ctx context.Context, id int64, status Status, buyer string) (Unit, error) {
	if !status.Valid() {
		return Unit{}, common.Errorf(common.ErrInvalidStockState, "неизвестный статус %q", status)
	}
	if status == StatusSold && buyer == "" {
		return Unit{}, common.Errorf(common.ErrInvalidStockState, "для продажи нужен покупатель")
	}

	u, err := s.unit(ctx, id)
	if err != nil {
		return Unit{}, err
	}

	// товар у единицы неизменен, блокируем склад этого товара
	release, err := s.lock(ctx, "stock_update_"+u.ProductCode)
	if err != nil {
		return Unit{}, err
	}
	defer release()

	if u, err = s.unit(ctx, id); err != nil {
		return Unit{}, err
	}
	if !CanMove(u.Status, status) {
		return Unit{}, common.Errorf(common.ErrInvalidStockState, "%s → %s", u.Status, status)
	}

	err = s.repo.Move(ctx, []int64{id}, u.Status, status, buyer)
	if errors.Is(err, ErrMoved) {
		return Unit{}, common.Errorf(common.ErrInvalidStockState, "статус #%d изменился", id)
	}
	if err != nil {
		return Unit{}, s.fail(ctx, "update_stock_status", err)
	}
	s.invalidateStock(ctx, u.ProductCode)

	u.Status = status
	if status == StatusSold {
		u.BuyerHandle = buyer
		s.notifier.Emit(ctx, notify.StockSold, notify.Sale{ProductCode: u.ProductCode, BuyerHandle: buyer, Quantity: 1})
	}
	return u, nil
}

// RemoveStock списывает со склада n самых старых доступных единиц.
func (s *Service) RemoveStock(ctx context.Context, code string, n int) (int, error) {
	code = NormalizeCode(code)
	if n < 1 {
		return 0, common.Errorf(common.ErrInvalidAmount, "количество должно быть положительным")
	}

	release, err := s.lock(ctx, "stock_update_"+code)
	if err != nil {
		return 0, err
	}
	defer release()

	units, err := s.AvailableStock(ctx, code, n)
	if err != nil {
		return 0, err
	}
	if err := s.repo.Move(ctx, unitIDs(units), StatusAvailable, StatusDeleted, ""); err != nil {
		return 0, s.fail(ctx, "remove_stock", err)
	}
	s.invalidateStock(ctx, code)

	log.WithFields(log.Fields{"code": code, "quantity": n}).Info("Единицы товара списаны")
	return len(units), nil
}

// GetWorldInfo возвращает мир для депозита.
func (s *Service) GetWorldInfo(ctx context.Context) (WorldInfo, bool, error) {
	var w WorldInfo
	ok, err := s.cache.Get(ctx, keyWorldInfo, &w)
	if err != nil {
		log.WithError(err).Warn("Кэш мира недоступен")
	}
	if ok {
		return w, true, nil
	}

	w, found, err := s.repo.WorldInfo(ctx)
	if err != nil {
		return WorldInfo{}, false, common.Wrap(common.ErrTransactionFailed, err, "чтение мира")
	}
	if !found {
		return WorldInfo{}, false, nil
	}
	if err := s.cache.Set(ctx, keyWorldInfo, w, s.settings.LongTTL, false); err != nil {
		log.WithError(err).Warn("Не удалось закэшировать мир")
	}
	return w, true, nil
}

// UpdateWorldInfo сохраняет мир для депозита.
func (s *Service) UpdateWorldInfo(ctx context.Context, world, owner, bot string) (WorldInfo, error) {
	w := WorldInfo{
		World: strings.ToUpper(strings.TrimSpace(world)),
		Owner: strings.TrimSpace(owner),
		Bot:   strings.TrimSpace(bot),
	}
	if w.World == "" {
		return WorldInfo{}, common.Errorf(common.ErrInvalidIdentity, "не указан мир")
	}

	release, err := s.lock(ctx, "world_info_update")
	if err != nil {
		return WorldInfo{}, err
	}
	defer release()

	w, err = s.repo.SaveWorldInfo(ctx, w)
	if err != nil {
		return WorldInfo{}, s.fail(ctx, "update_world_info", err)
	}
	if err := s.cache.Set(ctx, keyWorldInfo, w, s.settings.LongTTL, false); err != nil {
		log.WithError(err).Warn("Не удалось закэшировать мир")
		_ = s.cache.Delete(ctx, keyWorldInfo)
	}

	log.WithField("world", w.World).Info("Мир для депозита обновлён")
	s.notifier.Emit(ctx, notify.WorldUpdated, notify.World{World: w.World, Owner: w.Owner, Bot: w.Bot})
	return w, nil
}
