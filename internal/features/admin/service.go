// Package admin - service.go содержит логику админ-команд.
package admin

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/trx"
)

// KeyMaintenance - флаг режима обслуживания. Хранится в долговременном
// кэше, поэтому переживает перезапуск.
const KeyMaintenance = "maintenance_mode"

func keyBlacklist(handle string) string { return "blacklist_" + handle }

// Settings - параметры админки.
type Settings struct {
	AdminIDs     []string
	APITokenHash string
	// Сколько последних операций показывать в !checkbal
	ReportHistory int
}

// Service управляет админ-функциями.
type Service struct {
	repo     Store
	balances *economy.Service
	coord    *trx.Coordinator
	cache    *cache.Cache
	settings Settings
}

// NewService создаёт сервис админки.
func NewService(repo Store, balances *economy.Service, coord *trx.Coordinator, c *cache.Cache, s Settings) *Service {
	if s.ReportHistory <= 0 {
		s.ReportHistory = 5
	}
	return &Service{repo: repo, balances: balances, coord: coord, cache: c, settings: s}
}

// IsAdmin - handle входит в ADMIN_IDS.
func (s *Service) IsAdmin(handle string) bool {
	for _, id := range s.settings.AdminIDs {
		if id == handle {
			return true
		}
	}
	return false
}

// AddBalance начисляет amount единиц валюты cur на счёт account.
func (s *Service) AddBalance(ctx context.Context, actor, account string, amount int64, cur ledger.Currency) (trx.MoneyResult, error) {
	d := cur.Delta(amount)
	return s.coord.Deposit(ctx, trx.MoneyRequest{
		Account: account,
		WL:      d.WL,
		DL:      d.DL,
		BGL:     d.BGL,
		Actor:   actor,
		Kind:    economy.KindAdminAdd,
		Detail:  fmt.Sprintf("Начисление %d %s администратором", amount, cur),
	})
}

// RemoveBalance списывает amount единиц валюты cur со счёта account.
func (s *Service) RemoveBalance(ctx context.Context, actor, account string, amount int64, cur ledger.Currency) (trx.MoneyResult, error) {
	d := cur.Delta(amount)
	return s.coord.Withdraw(ctx, trx.MoneyRequest{
		Account: account,
		WL:      d.WL,
		DL:      d.DL,
		BGL:     d.BGL,
		Actor:   actor,
		Kind:    economy.KindAdminRemove,
		Detail:  fmt.Sprintf("Списание %d %s администратором", amount, cur),
	})
}

// CheckBalance собирает сводку по счёту.
func (s *Service) CheckBalance(ctx context.Context, account string) (Report, error) {
	account = economy.NormalizeAccount(account)
	b, err := s.balances.GetBalance(ctx, account)
	if err != nil {
		return Report{}, err
	}
	history, err := s.balances.GetHistory(ctx, account, s.settings.ReportHistory)
	if err != nil {
		return Report{}, err
	}
	handle, err := s.balances.AccountHandle(ctx, account)
	if err != nil && !common.IsNotFound(err) {
		return Report{}, err
	}
	return Report{Account: account, Handle: handle, Balance: b, History: history}, nil
}

// ResetUser обнуляет счёт. Возвращает баланс до обнуления.
func (s *Service) ResetUser(ctx context.Context, actor, account string) (ledger.Balance, error) {
	old, _, err := s.balances.ResetBalance(ctx, account, "Обнуление администратором ("+actor+")")
	if err != nil {
		return ledger.Balance{}, err
	}
	log.WithFields(log.Fields{"account": account, "actor": actor, "old": old.Format()}).Warn("Счёт обнулён")
	return old, nil
}

// SetMaintenance включает или выключает режим обслуживания.
func (s *Service) SetMaintenance(ctx context.Context, actor string, on bool) error {
	if err := s.cache.Set(ctx, KeyMaintenance, on, cache.Forever, true); err != nil {
		return common.Wrap(common.ErrTransactionFailed, err, "режим обслуживания")
	}
	log.WithFields(log.Fields{"actor": actor, "enabled": on}).Warn("Режим обслуживания изменён")
	return nil
}

// InMaintenance - включён режим обслуживания.
// Если кэш недоступен, магазин считается открытым.
func (s *Service) InMaintenance(ctx context.Context) bool {
	var on bool
	ok, err := s.cache.Get(ctx, KeyMaintenance, &on)
	if err != nil {
		log.WithError(err).Warn("Не удалось прочитать режим обслуживания")
		return false
	}
	return ok && on
}

// AddToBlacklist запрещает пользователю handle пользоваться ботом.
func (s *Service) AddToBlacklist(ctx context.Context, actor, handle, reason string) (bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return false, common.Errorf(common.ErrInvalidIdentity, "не указан пользователь")
	}
	if s.IsAdmin(handle) {
		return false, common.Errorf(common.ErrInvalidIdentity, "нельзя заблокировать администратора")
	}

	added, err := s.repo.AddBlacklist(ctx, BlacklistEntry{Handle: handle, Reason: reason, AddedBy: actor})
	if err != nil {
		return false, common.Wrap(common.ErrTransactionFailed, err, "чёрный список")
	}
	if err := s.cache.Delete(ctx, keyBlacklist(handle)); err != nil {
		log.WithError(err).Warn("Не удалось сбросить кэш чёрного списка")
	}
	if added {
		log.WithFields(log.Fields{"handle": handle, "actor": actor, "reason": reason}).Warn("Пользователь заблокирован")
	}
	return added, nil
}

// RemoveFromBlacklist снимает блокировку.
func (s *Service) RemoveFromBlacklist(ctx context.Context, actor, handle string) (bool, error) {
	handle = strings.TrimSpace(handle)
	removed, err := s.repo.RemoveBlacklist(ctx, handle)
	if err != nil {
		return false, common.Wrap(common.ErrTransactionFailed, err, "чёрный список")
	}
	if err := s.cache.Delete(ctx, keyBlacklist(handle)); err != nil {
		log.WithError(err).Warn("Не удалось сбросить кэш чёрного списка")
	}
	if removed {
		log.WithFields(log.Fields{"handle": handle, "actor": actor}).Info("Пользователь разблокирован")
	}
	return removed, nil
}

// IsBlacklisted - пользователь в чёрном списке.
func (s *Service) IsBlacklisted(ctx context.Context, handle string) (bool, error) {
	var blocked bool
	err := s.cache.Fetch(ctx, keyBlacklist(handle), cache.TTLShort, &blocked, func(ctx context.Context) (any, error) {
		return s.repo.IsBlacklisted(ctx, handle)
	})
	if err != nil {
		return false, common.Wrap(common.ErrTransactionFailed, err, "чёрный список")
	}
	return blocked, nil
}

// Blacklist возвращает весь чёрный список.
func (s *Service) Blacklist(ctx context.Context) ([]BlacklistEntry, error) {
	list, err := s.repo.Blacklist(ctx)
	if err != nil {
		return nil, common.Wrap(common.ErrTransactionFailed, err, "чёрный список")
	}
	return list, nil
}

// Authorize проверяет токен HTTP API.
func (s *Service) Authorize(token string) error {
	if s.settings.APITokenHash == "" || token == "" {
		return common.ErrUnauthorized
	}
	if !VerifyToken(token, s.settings.APITokenHash) {
		return common.ErrUnauthorized
	}
	return nil
}

// CacheStats возвращает статистику кэша.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}
