// Package economy - service.go содержит бизнес-логику балансов.
// Единственная точка изменения баланса - UpdateBalance.
package economy

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/metrics"
	"serotonyl.ru/discord-shop/internal/notify"
)

// Ограничения GrowID.
const (
	MinAccountLen = 3
	MaxAccountLen = 30
)

var accountPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Ключи кэша.
func keyAccount(handle string) string  { return "growid_" + handle }
func keyHandle(account string) string  { return "discord_id_" + account }
func keyBalance(account string) string { return "balance_" + account }
func keyHistory(account string) string { return "trx_history_" + account }

// Settings - параметры сервиса.
type Settings struct {
	// Срок жизни балансов и истории в кэше
	ShortTTL time.Duration
	// Срок жизни привязок в кэше
	LongTTL time.Duration
	// Изменения от этой суммы (в WL) дополнительно уходят в хук large_transaction
	LargeThreshold int64
}

// historyPage - закэшированная страница истории.
// Limit - с каким лимитом её читали из БД.
type historyPage struct {
	Limit   int     `json:"limit"`
	Entries []Entry `json:"entries"`
}

// Service управляет балансами.
type Service struct {
	repo     Store
	cache    *cache.Cache
	locks    *locks.Registry
	notifier notify.Emitter
	settings Settings
}

// NewService создаёт сервис балансов.
func NewService(repo Store, c *cache.Cache, l *locks.Registry, n notify.Emitter, s Settings) *Service {
	if s.ShortTTL <= 0 {
		s.ShortTTL = cache.TTLShort
	}
	if s.LongTTL <= 0 {
		s.LongTTL = cache.TTLLong
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{repo: repo, cache: c, locks: l, notifier: n, settings: s}
}

// NormalizeAccount приводит GrowID к каноническому виду.
// GrowID в игре не различает регистр, храним заглавными.
func NormalizeAccount(account string) string {
	return strings.ToUpper(strings.TrimSpace(account))
}

// ValidateAccount проверяет формат GrowID.
func ValidateAccount(account string) error {
	n := len([]rune(account))
	if n < MinAccountLen {
		return common.Errorf(common.ErrInvalidIdentity, "GrowID должен быть не короче %d символов", MinAccountLen)
	}
	if n > MaxAccountLen {
		return common.Errorf(common.ErrInvalidIdentity, "GrowID должен быть не длиннее %d символов", MaxAccountLen)
	}
	if !accountPattern.MatchString(account) {
		return common.Errorf(common.ErrInvalidIdentity, "GrowID может содержать только буквы, цифры и _")
	}
	return nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, ok := s.locks.Acquire(ctx, key, 0)
	if !ok {
		return nil, common.Errorf(common.ErrLockAcquisitionFailed, "%s", key)
	}
	return release, nil
}

// ResolveAccount возвращает GrowID, привязанный к Discord-аккаунту.
func (s *Service) ResolveAccount(ctx context.Context, handle string) (string, error) {
	var account string
	ok, err := s.cache.Get(ctx, keyAccount(handle), &account)
	if err != nil {
		log.WithError(err).WithField("handle", handle).Warn("Кэш привязок недоступен")
	}
	if ok {
		return account, nil
	}

	link, found, err := s.repo.LinkByHandle(ctx, handle)
	if err != nil {
		return "", common.Wrap(common.ErrTransactionFailed, err, "поиск GrowID")
	}
	if !found {
		return "", common.ErrNotRegistered
	}

	if err := s.cache.Set(ctx, keyAccount(handle), link.Account, s.settings.LongTTL, false); err != nil {
		log.WithError(err).Warn("Не удалось закэшировать GrowID")
	}
	return link.Account, nil
}

// AccountHandle возвращает Discord-аккаунт, к которому привязан GrowID.
func (s *Service) AccountHandle(ctx context.Context, account string) (string, error) {
	account = NormalizeAccount(account)

	var handle string
	err := s.cache.Fetch(ctx, keyHandle(account), s.settings.LongTTL, &handle, func(ctx context.Context) (any, error) {
		link, found, err := s.repo.LinkByAccount(ctx, account)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "поиск владельца GrowID")
		}
		if !found {
			return nil, common.Errorf(common.ErrAccountNotFound, "%s", account)
		}
		return link.Handle, nil
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// Register привязывает Discord-аккаунт handle к GrowID account и создаёт
// нулевой счёт. Повторная регистрация той же пары ничего не меняет.
// Возвращает подтверждённый GrowID.
func (s *Service) Register(ctx context.Context, handle, account string) (string, error) {
	account = NormalizeAccount(account)
	if err := ValidateAccount(account); err != nil {
		return "", err
	}

	release, err := s.lock(ctx, "register_"+handle)
	if err != nil {
		return "", err
	}
	defer release()

	existing, found, err := s.repo.LinkByHandle(ctx, handle)
	if err != nil {
		return "", common.Wrap(common.ErrTransactionFailed, err, "поиск привязки")
	}
	if found && existing.Account != account {
		return "", common.Errorf(common.ErrAlreadyLinked, "аккаунт уже привязан к %s", existing.Account)
	}

	owner, found, err := s.repo.LinkByAccount(ctx, account)
	if err != nil {
		return "", common.Wrap(common.ErrTransactionFailed, err, "поиск привязки")
	}
	if found && owner.Handle != handle {
		return "", common.Errorf(common.ErrAlreadyLinked, "GrowID %s принадлежит другому пользователю", account)
	}

	created, err := s.repo.CreateLink(ctx, handle, account)
	if errors.Is(err, ErrConflict) {
		return "", common.Errorf(common.ErrAlreadyLinked, "GrowID %s принадлежит другому пользователю", account)
	}
	if err != nil {
		return "", common.Wrap(common.ErrTransactionFailed, err, "регистрация")
	}

	if err := s.cache.DeleteMany(ctx, keyAccount(handle), keyHandle(account), keyBalance(account)); err != nil {
		log.WithError(err).WithField("account", account).Warn("Не удалось сбросить кэш после регистрации")
	}

	if created {
		log.WithFields(log.Fields{
			"handle":  handle,
			"account": account,
		}).Info("Пользователь зарегистрирован")
		s.notifier.Emit(ctx, notify.UserRegistered, notify.Registered{Handle: handle, Account: account})
	}
	return account, nil
}

// IsRegistered - у Discord-аккаунта есть GrowID.
func (s *Service) IsRegistered(ctx context.Context, handle string) (bool, error) {
	_, err := s.ResolveAccount(ctx, handle)
	if errors.Is(err, common.ErrNotRegistered) {
		return false, nil
	}
	return err == nil, err
}

// GetBalance возвращает баланс счёта. Читает из кэша, при промахе из БД.
func (s *Service) GetBalance(ctx context.Context, account string) (ledger.Balance, error) {
	account = NormalizeAccount(account)

	var b ledger.Balance
	err := s.cache.Fetch(ctx, keyBalance(account), s.settings.ShortTTL, &b, func(ctx context.Context) (any, error) {
		bal, found, err := s.repo.Balance(ctx, account)
		if err != nil {
			return nil, common.Wrap(common.ErrTransactionFailed, err, "чтение баланса")
		}
		if !found {
			return nil, common.Errorf(common.ErrAccountNotFound, "%s", account)
		}
		return bal, nil
	})
	if err != nil {
		return ledger.Balance{}, err
	}
	return b, nil
}

// HandleBalance возвращает GrowID и баланс Discord-аккаунта.
func (s *Service) HandleBalance(ctx context.Context, handle string) (string, ledger.Balance, error) {
	account, err := s.ResolveAccount(ctx, handle)
	if err != nil {
		return "", ledger.Balance{}, err
	}
	b, err := s.GetBalance(ctx, account)
	return account, b, err
}

// OperationApplied - операция с ключом идемпотентности key уже записана в историю.
func (s *Service) OperationApplied(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, err := s.repo.HasIdempotencyKey(ctx, key)
	if err != nil {
		return false, common.Wrap(common.ErrTransactionFailed, err, "проверка ключа идемпотентности")
	}
	return ok, nil
}

// UpdateBalance - единственный способ изменить баланс.
//
// Под блокировкой счёта: читает текущий баланс, применяет изменение
// (ledger.Apply), одной транзакцией записывает новый баланс и запись истории,
// затем обновляет баланс в кэше и сбрасывает кэш истории.
func (s *Service) UpdateBalance(ctx context.Context, req UpdateRequest) (ledger.Balance, error) {
	_, next, err := s.update(ctx, req)
	return next, err
}

func modes(req UpdateRequest) int {
	n := 0
	if !req.Delta.IsZero() {
		n++
	}
	if req.Debit != 0 {
		n++
	}
	if req.Reset {
		n++
	}
	return n
}

// update проводит изменение и возвращает баланс до и после него.
// При ошибке после чтения счёта оба значения равны текущему балансу.
func (s *Service) update(ctx context.Context, req UpdateRequest) (ledger.Balance, ledger.Balance, error) {
	account := NormalizeAccount(req.Account)
	if !req.Kind.Valid() {
		return ledger.Balance{}, ledger.Balance{}, common.Errorf(common.ErrInvalidAmount, "неизвестный вид операции %q", req.Kind)
	}
	if modes(req) > 1 {
		return ledger.Balance{}, ledger.Balance{}, common.Errorf(common.ErrInvalidAmount, "нельзя одновременно указывать изменение, списание и обнуление")
	}
	if req.Debit < 0 {
		return ledger.Balance{}, ledger.Balance{}, common.Errorf(common.ErrInvalidAmount, "сумма списания должна быть положительной")
	}

	release, err := s.lock(ctx, "balance_update_"+account)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	defer release()

	applied, err := s.OperationApplied(ctx, req.IdempotencyKey)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	if applied {
		return ledger.Balance{}, ledger.Balance{}, common.Errorf(common.ErrDuplicateOperation, "ключ %s", req.IdempotencyKey)
	}

	current, err := s.GetBalance(ctx, account)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}

	delta := req.Delta
	switch {
	case req.Reset:
		if current.IsZero() {
			return current, current, nil
		}
		delta = ledger.Delta{WL: -current.WL, DL: -current.DL, BGL: -current.BGL}
	case req.Debit > 0:
		if delta, err = ledger.Debit(current, req.Debit); err != nil {
			return current, current, err
		}
	}
	if delta.IsZero() {
		return current, current, common.Errorf(common.ErrInvalidAmount, "изменение баланса пустое")
	}

	next, err := ledger.Apply(current, delta)
	if err != nil {
		return current, current, err
	}

	entry, err := s.repo.ApplyUpdate(ctx, Update{
		Account:        account,
		Old:            current,
		New:            next,
		Kind:           req.Kind,
		Detail:         req.Detail,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return current, current, s.updateError(ctx, account, req, err)
	}

	if err := s.cache.Set(ctx, keyBalance(account), next, s.settings.ShortTTL, false); err != nil {
		log.WithError(err).WithField("account", account).Warn("Не удалось обновить баланс в кэше")
		_ = s.cache.Delete(ctx, keyBalance(account))
	}
	if err := s.cache.Delete(ctx, keyHistory(account)); err != nil {
		log.WithError(err).WithField("account", account).Warn("Не удалось сбросить кэш истории")
	}

	metrics.BalanceUpdates.WithLabelValues(string(req.Kind)).Inc()
	log.WithFields(log.Fields{
		"account":  account,
		"kind":     req.Kind,
		"old":      entry.OldBalance,
		"new":      entry.NewBalance,
		"entry_id": entry.ID,
	}).Info("Баланс изменён")

	change := notify.BalanceChange{
		Account:  account,
		Kind:     string(req.Kind),
		Detail:   req.Detail,
		OldTotal: current.Total(),
		NewTotal: next.Total(),
		OldText:  entry.OldBalance,
		NewText:  entry.NewBalance,
	}
	s.notifier.Emit(ctx, notify.BalanceUpdated, change)
	if amount := abs(delta.Total()); s.settings.LargeThreshold > 0 && amount >= s.settings.LargeThreshold {
		s.notifier.Emit(ctx, notify.LargeTransaction, notify.Large{Op: string(req.Kind), Account: account, Amount: amount})
	}

	return current, next, nil
}

func (s *Service) updateError(ctx context.Context, account string, req UpdateRequest, err error) error {
	switch {
	case errors.Is(err, ErrNoAccount):
		return common.Errorf(common.ErrAccountNotFound, "%s", account)
	case errors.Is(err, ErrConflict):
		return common.Errorf(common.ErrDuplicateOperation, "ключ %s", req.IdempotencyKey)
	case errors.Is(err, ErrStale):
		// в кэше оказался не тот баланс, что в БД
		_ = s.cache.Delete(ctx, keyBalance(account))
	}
	log.WithError(err).WithFields(log.Fields{
		"account": account,
		"kind":    req.Kind,
	}).Error("Транзакция изменения баланса откатилась")
	return common.Wrap(common.ErrTransactionFailed, err, "изменение баланса")
}

// ResetBalance обнуляет счёт (admin_reset) и возвращает баланс до и после.
// Пустой счёт не меняется.
func (s *Service) ResetBalance(ctx context.Context, account, detail string) (ledger.Balance, ledger.Balance, error) {
	return s.update(ctx, UpdateRequest{
		Account: account,
		Reset:   true,
		Detail:  detail,
		Kind:    KindAdminReset,
	})
}

// GetHistory возвращает последние limit записей истории, новые первыми.
// Закэшированная страница используется, только если её читали с лимитом
// не меньше запрошенного.
func (s *Service) GetHistory(ctx context.Context, account string, limit int) ([]Entry, error) {
	account = NormalizeAccount(account)
	if limit <= 0 {
		limit = 10
	}

	var page historyPage
	ok, err := s.cache.Get(ctx, keyHistory(account), &page)
	if err != nil {
		log.WithError(err).WithField("account", account).Warn("Кэш истории недоступен")
	}
	if ok && page.Limit >= limit {
		if len(page.Entries) > limit {
			return page.Entries[:limit], nil
		}
		return page.Entries, nil
	}

	if _, err := s.GetBalance(ctx, account); err != nil {
		return nil, err
	}

	entries, err := s.repo.History(ctx, account, limit)
	if err != nil {
		return nil, common.Wrap(common.ErrTransactionFailed, err, "чтение истории")
	}

	page = historyPage{Limit: limit, Entries: entries}
	if err := s.cache.Set(ctx, keyHistory(account), page, s.settings.ShortTTL, false); err != nil {
		log.WithError(err).Warn("Не удалось закэшировать историю")
	}
	return entries, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
