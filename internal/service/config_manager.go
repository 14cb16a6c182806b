package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/pkg/retry"
	"profitguard/pkg/utils"
)

// Ошибки менеджера параметров
var (
	ErrUnknownSection = errors.New("unknown settings section")
	ErrUnknownKey     = errors.New("unknown settings key")
)

// ConfigManager - единый источник настраиваемых параметров процесса.
//
// Каждая секция хранится неизменяемым снимком за atomic.Pointer:
// чтение без блокировок, запись создаёт новый снимок.
// Запись в хранилище идёт через сравнение версии; при конфликте
// документ перечитывается и изменение применяется заново.
type ConfigManager struct {
	store     SettingsStore
	registry  models.Registry
	processID string
	notifier  ChangeNotifier
	logger    *utils.Logger
	now       func() time.Time
	log       *utils.Logger

	snapshots map[string]*atomic.Pointer[models.ParamSnapshot] // набор ключей не меняется после создания

	writeMu   sync.Mutex // одна запись за раз в пределах процесса
	mu        sync.RWMutex
	listeners []func(*models.ParamSnapshot)
}

// NewConfigManager создаёт менеджер со снимками значений по умолчанию (версия 0).
// Load подтягивает сохранённые документы.
func NewConfigManager(store SettingsStore, registry models.Registry, processID string) *ConfigManager {
	m := &ConfigManager{
		store:     store,
		registry:  registry,
		processID: processID,
		now:       time.Now,
		log:       utils.L().WithComponent("config"),
		snapshots: make(map[string]*atomic.Pointer[models.ParamSnapshot], len(registry)),
	}
	for name, schema := range registry {
		ptr := &atomic.Pointer[models.ParamSnapshot]{}
		ptr.Store(models.NewParamSnapshot(name, 0, time.Time{}, "", schema.Defaults()))
		m.snapshots[name] = ptr
	}
	return m
}

// SetNotifier подключает быстрый канал оповещения других процессов
func (m *ConfigManager) SetNotifier(n ChangeNotifier) {
	m.notifier = n
}

// SetLogger задаёт логгер, уровень которого следует за profit_monitor.log_level
func (m *ConfigManager) SetLogger(l *utils.Logger) {
	m.logger = l
}

// SetClock подменяет часы
func (m *ConfigManager) SetClock(now func() time.Time) {
	m.now = now
}

// OnChange регистрирует обработчик установки нового снимка
func (m *ConfigManager) OnChange(fn func(*models.ParamSnapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Sections возвращает имена секций по алфавиту
func (m *ConfigManager) Sections() []string {
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema возвращает схему секции
func (m *ConfigManager) Schema(section string) (*models.SectionSchema, error) {
	schema, ok := m.registry.Section(section)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	return schema, nil
}

// ============ Чтение ============

// Snapshot возвращает текущий снимок секции (nil для неизвестной секции)
func (m *ConfigManager) Snapshot(section string) *models.ParamSnapshot {
	ptr, ok := m.snapshots[section]
	if !ok {
		return nil
	}
	return ptr.Load()
}

// Version возвращает версию установленного снимка
func (m *ConfigManager) Version(section string) int64 {
	if s := m.Snapshot(section); s != nil {
		return s.Version
	}
	return 0
}

// Get возвращает значение параметра
func (m *ConfigManager) Get(section, key string) (any, error) {
	snap := m.Snapshot(section)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	v, ok := snap.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownKey, section, key)
	}
	return v, nil
}

// GetAll возвращает снимок секции
func (m *ConfigManager) GetAll(section string) (*models.ParamSnapshot, error) {
	snap := m.Snapshot(section)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	return snap, nil
}

// History возвращает журнал изменений секции
func (m *ConfigManager) History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error) {
	if _, err := m.Schema(section); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return m.store.History(ctx, section, limit)
}

// ============ Загрузка ============

// Load создаёт отсутствующие секции со значениями по умолчанию и
// устанавливает сохранённые документы.
func (m *ConfigManager) Load(ctx context.Context) error {
	for _, name := range m.Sections() {
		schema := m.registry[name]
		doc := models.BuildDocument(schema, schema.Defaults(), models.DocumentMetadata{
			ChangedBy: m.processID,
			ChangedAt: m.now().UTC(),
			Event:     models.EventInit,
		})
		created, err := m.store.CreateIfMissing(ctx, name, doc, m.now())
		if err != nil {
			return fmt.Errorf("init section %s: %w", name, err)
		}
		if created {
			m.log.Info("settings section initialised with defaults", utils.Section(name))
		}
		if _, err := m.Reload(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Reload перечитывает секцию и устанавливает её, если версия новее.
// Возвращает true при установке нового снимка.
func (m *ConfigManager) Reload(ctx context.Context, section string) (bool, error) {
	schema, err := m.Schema(section)
	if err != nil {
		return false, err
	}
	stored, err := m.store.Get(ctx, section)
	if err != nil {
		return false, fmt.Errorf("load section %s: %w", section, err)
	}
	return m.install(schema, stored), nil
}

// CheckForChanges сравнивает версии в хранилище с установленными
// и перечитывает изменившиеся секции.
func (m *ConfigManager) CheckForChanges(ctx context.Context) ([]string, error) {
	var changed []string
	var errs []error
	for _, name := range m.Sections() {
		v, err := m.store.Version(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("version %s: %w", name, err))
			continue
		}
		if v <= m.Version(name) {
			continue
		}
		ok, err := m.Reload(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed = append(changed, name)
		}
	}
	return changed, errors.Join(errs...)
}

// install устанавливает снимок, если он новее текущего
func (m *ConfigManager) install(schema *models.SectionSchema, stored *repository.StoredSection) bool {
	ptr := m.snapshots[schema.Name]
	next := models.NewParamSnapshot(schema.Name, stored.Version,
		stored.Document.Metadata.ChangedAt, stored.Document.Metadata.ChangedBy,
		stored.Document.Values(schema))

	for {
		cur := ptr.Load()
		if cur.Version >= next.Version {
			return false
		}
		if ptr.CompareAndSwap(cur, next) {
			break
		}
	}

	m.log.Info("settings snapshot installed",
		utils.Section(schema.Name),
		utils.ConfigVersion(next.Version),
		utils.String("changed_by", next.ChangedBy))

	if schema.Name == models.SectionProfitMonitor && m.logger != nil {
		m.logger.SetLevel(next.String("log_level"))
	}

	m.mu.RLock()
	listeners := append([]func(*models.ParamSnapshot){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(next)
	}
	return true
}

// ============ Запись ============

// Set меняет один параметр
func (m *ConfigManager) Set(ctx context.Context, section, key string, value any, changedBy string) (*models.ParamSnapshot, error) {
	return m.UpdateBulk(ctx, section, map[string]any{key: value}, changedBy)
}

// UpdateBulk применяет набор значений целиком или не применяет ничего.
// При ошибке валидации возвращается *models.ValidationError, состояние не меняется.
func (m *ConfigManager) UpdateBulk(ctx context.Context, section string, values map[string]any, changedBy string) (*models.ParamSnapshot, error) {
	schema, err := m.Schema(section)
	if err != nil {
		return nil, err
	}
	normalized, err := schema.Validate(values)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return m.Snapshot(section), nil
	}

	return m.write(ctx, schema, changedBy, models.EventUpdate, func(current map[string]any) map[string]any {
		next := make(map[string]any, len(current))
		for k, v := range current {
			next[k] = v
		}
		for k, v := range normalized {
			next[k] = v
		}
		return next
	})
}

// Reset возвращает все параметры секции к значениям по умолчанию одним событием.
// Событие записывается с новой версией и строкой журнала в любом случае.
func (m *ConfigManager) Reset(ctx context.Context, section, changedBy string) (*models.ParamSnapshot, error) {
	schema, err := m.Schema(section)
	if err != nil {
		return nil, err
	}
	return m.write(ctx, schema, changedBy, models.EventReset, func(map[string]any) map[string]any {
		return schema.Defaults()
	})
}

// write читает документ, применяет изменение и пишет со сравнением версии.
// Конфликт версии повторяется с перечитыванием документа.
func (m *ConfigManager) write(ctx context.Context, schema *models.SectionSchema, changedBy, event string,
	apply func(current map[string]any) map[string]any) (*models.ParamSnapshot, error) {

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if changedBy == "" {
		changedBy = m.processID
	}

	cfg := retry.Backoff(5, 10*time.Millisecond, 200*time.Millisecond)
	cfg.RetryIf = func(err error) bool { return errors.Is(err, repository.ErrVersionConflict) }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.log.Debug("settings version conflict, retrying", utils.Section(schema.Name), utils.Attempt(attempt))
	}

	stored, err := retry.DoWithResult(ctx, func() (*repository.StoredSection, error) {
		cur, err := m.store.Get(ctx, schema.Name)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		current := cur.Document.Values(schema)
		next := apply(current)

		previous, changes := diff(schema, current, next, event, changedBy)
		if len(changes) == 0 {
			return cur, nil
		}

		at := m.now().UTC()
		doc := models.BuildDocument(schema, next, models.DocumentMetadata{
			ChangedBy:      changedBy,
			ChangedAt:      at,
			Event:          event,
			PreviousValues: previous,
		})
		version, err := m.store.CompareAndSwap(ctx, schema.Name, doc, cur.Version, at, changes)
		if err != nil {
			return nil, err
		}
		return &repository.StoredSection{Section: schema.Name, Document: doc, Version: version, UpdatedAt: at}, nil
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("write section %s: %w", schema.Name, err)
	}

	if m.install(schema, stored) {
		m.log.Info("settings updated",
			utils.Section(schema.Name),
			utils.String("event", event),
			utils.String("changed_by", changedBy),
			utils.ConfigVersion(stored.Version))
		m.notify(ctx, schema.Name, stored.Version)
	}
	return m.Snapshot(schema.Name), nil
}

// notify оповещает другие процессы. Ошибка не влияет на запись:
// процессы всё равно увидят новую версию при опросе.
func (m *ConfigManager) notify(ctx context.Context, section string, version int64) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyChange(ctx, section, version); err != nil {
		m.log.Warn("settings change notification failed", utils.Section(section), utils.Err(err))
	}
}

// diff возвращает прежние значения изменённых ключей и строки журнала.
// Сброс пишется одной строкой журнала всегда, даже если секция уже
// на значениях по умолчанию.
func diff(schema *models.SectionSchema, current, next map[string]any, event, changedBy string) (map[string]any, []models.SettingsChange) {
	previous := make(map[string]any)
	var changes []models.SettingsChange
	var resetKeys []string

	for _, key := range schema.Keys() {
		if reflect.DeepEqual(current[key], next[key]) {
			continue
		}
		previous[key] = current[key]
		if event == models.EventReset {
			resetKeys = append(resetKeys, fmt.Sprintf("%s=%v", key, current[key]))
			continue
		}
		changes = append(changes, models.SettingsChange{
			Event:     event,
			Key:       key,
			OldValue:  fmt.Sprint(current[key]),
			NewValue:  fmt.Sprint(next[key]),
			ChangedBy: changedBy,
		})
	}

	if event == models.EventReset {
		changes = append(changes, models.SettingsChange{
			Event:     event,
			OldValue:  strings.Join(resetKeys, ", "),
			NewValue:  "defaults",
			ChangedBy: changedBy,
		})
	}
	return previous, changes
}
