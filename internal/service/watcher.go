package service

import (
	"context"
	"time"

	"profitguard/pkg/utils"
)

// Периоды опроса версий параметров по ролям
var DefaultWatchIntervals = map[string]time.Duration{
	"standard":   5 * time.Second,
	"enhanced":   3 * time.Second,
	"scouting":   5 * time.Second,
	"combined":   3 * time.Second,
	"automation": 10 * time.Second,
	"server":     5 * time.Second,
}

// WatchInterval возвращает период опроса для роли
func WatchInterval(role string) time.Duration {
	if d, ok := DefaultWatchIntervals[role]; ok {
		return d
	}
	return 5 * time.Second
}

// Watcher опрашивает версии секций и перечитывает изменившиеся.
//
// Изменение, записанное в момент T, будет установлено не позже T + interval.
// Сообщение из Redis (Nudge) только ускоряет проверку; решение всегда
// принимается сравнением версии с последней установленной.
type Watcher struct {
	manager  *ConfigManager
	interval time.Duration
	now      func() time.Time
	log      *utils.Logger

	lastCheck time.Time
	wake      chan struct{}
}

// NewWatcher создаёт наблюдатель с периодом interval
func NewWatcher(manager *ConfigManager, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		manager:  manager,
		interval: interval,
		now:      time.Now,
		log:      utils.L().WithComponent("config_watcher"),
		wake:     make(chan struct{}, 1),
	}
}

// SetClock подменяет часы
func (w *Watcher) SetClock(now func() time.Time) {
	w.now = now
}

// Interval возвращает период опроса
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

// Nudge просит проверить версии немедленно (не блокирует)
func (w *Watcher) Nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Poll проверяет версии, если с прошлой проверки прошёл период.
// Возвращает изменившиеся секции.
func (w *Watcher) Poll(ctx context.Context, now time.Time) ([]string, error) {
	if !w.lastCheck.IsZero() && now.Sub(w.lastCheck) < w.interval {
		return nil, nil
	}
	return w.check(ctx, now)
}

func (w *Watcher) check(ctx context.Context, now time.Time) ([]string, error) {
	w.lastCheck = now
	changed, err := w.manager.CheckForChanges(ctx)
	if err != nil {
		w.log.Warn("settings version check failed", utils.Err(err))
	}
	for _, section := range changed {
		w.log.Info("settings reloaded", utils.Section(section), utils.ConfigVersion(w.manager.Version(section)))
	}
	return changed, err
}

// Run опрашивает версии до отмены контекста
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.check(ctx, w.now())
		case <-w.wake:
			_, _ = w.check(ctx, w.now())
		}
	}
}
