package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

func newLoadedManager(t *testing.T, store *MockSettingsStore, processID string) *ConfigManager {
	t.Helper()
	m := NewConfigManager(store, models.DefaultRegistry(), processID)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return m
}

func TestConfigManager_LoadInitialisesDefaults(t *testing.T) {
	store := NewMockSettingsStore()
	m := newLoadedManager(t, store, "server-1")

	for _, section := range []string{models.SectionProfitMonitor, models.SectionProfitScouting, models.SectionAutomation} {
		if v := m.Version(section); v != 1 {
			t.Errorf("Version(%s) = %d, want 1", section, v)
		}
	}
	v, err := m.Get(models.SectionProfitMonitor, "min_profit_percent")
	if err != nil || v != 0.5 {
		t.Errorf("min_profit_percent = %v (%v), want 0.5", v, err)
	}

	// Повторная загрузка не перезаписывает существующие документы
	if _, err := m.Set(context.Background(), models.SectionProfitMonitor, "check_interval", 20, "ui"); err != nil {
		t.Fatal(err)
	}
	other := newLoadedManager(t, store, "monitor-1")
	if got := other.Snapshot(models.SectionProfitMonitor).Int("check_interval"); got != 20 {
		t.Errorf("second process check_interval = %d, want 20", got)
	}
}

func TestConfigManager_UnknownSectionAndKey(t *testing.T) {
	m := newLoadedManager(t, NewMockSettingsStore(), "p")
	ctx := context.Background()

	if _, err := m.Set(ctx, "nope", "x", 1, ""); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("Set unknown section error = %v, want ErrUnknownSection", err)
	}
	if _, err := m.Get(models.SectionProfitMonitor, "nope"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Get unknown key error = %v, want ErrUnknownKey", err)
	}
	if _, err := m.Set(ctx, models.SectionProfitMonitor, "nope", 1, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Set unknown key error = %v, want validation error", err)
	}
}

// TestConfigManager_UpdateBulkAllOrNothing - одна невалидная пара отклоняет весь набор
func TestConfigManager_UpdateBulkAllOrNothing(t *testing.T) {
	store := NewMockSettingsStore()
	m := newLoadedManager(t, store, "p")

	_, err := m.UpdateBulk(context.Background(), models.SectionProfitMonitor, map[string]any{
		"min_profit_percent":    1.0,
		"trailing_stop_percent": 500.0,
	}, "ui")

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *models.ValidationError", err)
	}
	if len(verr.Errors) != 1 || verr.Errors[0].Field != "trailing_stop_percent" {
		t.Errorf("errors = %+v, want trailing_stop_percent only", verr.Errors)
	}
	if m.Version(models.SectionProfitMonitor) != 1 || store.casCalls != 0 {
		t.Errorf("version = %d, cas calls = %d; want untouched", m.Version(models.SectionProfitMonitor), store.casCalls)
	}
	if v, _ := m.Get(models.SectionProfitMonitor, "min_profit_percent"); v != 0.5 {
		t.Errorf("min_profit_percent = %v, want 0.5", v)
	}
}

func TestConfigManager_UpdateBulkRecordsHistory(t *testing.T) {
	store := NewMockSettingsStore()
	notifier := &MockNotifier{}
	m := newLoadedManager(t, store, "p")
	m.SetNotifier(notifier)

	snap, err := m.UpdateBulk(context.Background(), models.SectionProfitMonitor, map[string]any{
		"min_profit_percent": "0.8",
		"check_interval":     15.0,
	}, "alice")
	if err != nil {
		t.Fatalf("UpdateBulk() error = %v", err)
	}
	if snap.Version != 2 || snap.Float("min_profit_percent") != 0.8 || snap.Int("check_interval") != 15 {
		t.Errorf("snapshot = v%d %v", snap.Version, snap.All())
	}
	if snap.ChangedBy != "alice" {
		t.Errorf("ChangedBy = %q, want alice", snap.ChangedBy)
	}

	history, _ := m.History(context.Background(), models.SectionProfitMonitor, 0)
	var updates int
	for _, h := range history {
		if h.Event == models.EventUpdate {
			updates++
			if h.Version != 2 || h.ChangedBy != "alice" {
				t.Errorf("history row = %+v", h)
			}
		}
	}
	if updates != 2 {
		t.Errorf("update rows = %d, want 2", updates)
	}
	if notifier.versions[models.SectionProfitMonitor] != 2 {
		t.Errorf("notified version = %d, want 2", notifier.versions[models.SectionProfitMonitor])
	}
}

func TestConfigManager_NoChangeNoWrite(t *testing.T) {
	store := NewMockSettingsStore()
	m := newLoadedManager(t, store, "p")

	if _, err := m.Set(context.Background(), models.SectionProfitMonitor, "min_profit_percent", 0.5, ""); err != nil {
		t.Fatal(err)
	}
	if store.casCalls != 0 || m.Version(models.SectionProfitMonitor) != 1 {
		t.Errorf("cas calls = %d, version = %d; want no write", store.casCalls, m.Version(models.SectionProfitMonitor))
	}
}

func TestConfigManager_NotifierFailureKeepsWrite(t *testing.T) {
	m := newLoadedManager(t, NewMockSettingsStore(), "p")
	m.SetNotifier(&MockNotifier{err: errors.New("redis down")})

	snap, err := m.Set(context.Background(), models.SectionAutomation, "active_ttl_seconds", 60, "")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if snap.Int("active_ttl_seconds") != 60 {
		t.Errorf("active_ttl_seconds = %d, want 60", snap.Int("active_ttl_seconds"))
	}
}

// TestConfigManager_VersionConflictRetries - запись другого процесса между чтением
// и сравнением версии не теряется
func TestConfigManager_VersionConflictRetries(t *testing.T) {
	store := NewMockSettingsStore()
	a := newLoadedManager(t, store, "a")
	b := newLoadedManager(t, store, "b")
	ctx := context.Background()

	store.beforeCAS = func(section string) {
		store.beforeCAS = nil
		if _, err := b.Set(ctx, models.SectionProfitMonitor, "check_interval", 20, "b"); err != nil {
			t.Errorf("concurrent Set() error = %v", err)
		}
	}

	snap, err := a.Set(ctx, models.SectionProfitMonitor, "min_profit_percent", 1.0, "a")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if snap.Version != 3 {
		t.Errorf("Version = %d, want 3", snap.Version)
	}
	if snap.Float("min_profit_percent") != 1.0 || snap.Int("check_interval") != 20 {
		t.Errorf("values = %v, want both writes applied", snap.All())
	}
	if store.casCalls != 3 {
		t.Errorf("cas calls = %d, want 3 (b, a conflict, a retry)", store.casCalls)
	}
}

// TestConfigManager_ResetRecordsPriorValue - сброс пишет прежние значения одной строкой
func TestConfigManager_ResetRecordsPriorValue(t *testing.T) {
	store := NewMockSettingsStore()
	m := newLoadedManager(t, store, "p")
	ctx := context.Background()

	if _, err := m.Set(ctx, models.SectionProfitMonitor, "check_interval", 60, "ui"); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Reset(ctx, models.SectionProfitMonitor, "ui")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if snap.Int("check_interval") != 10 || snap.Version != 3 {
		t.Errorf("after reset check_interval = %d v%d, want 10 v3", snap.Int("check_interval"), snap.Version)
	}

	stored, _ := store.Get(ctx, models.SectionProfitMonitor)
	meta := stored.Document.Metadata
	if meta.Event != models.EventReset || meta.PreviousValues["check_interval"] != int64(60) {
		t.Errorf("metadata = %+v, want reset with previous check_interval 60", meta)
	}

	history, _ := m.History(ctx, models.SectionProfitMonitor, 1)
	if len(history) != 1 {
		t.Fatalf("history len = %d", len(history))
	}
	h := history[0]
	if h.Event != models.EventReset || !strings.Contains(h.OldValue, "check_interval=60") || h.NewValue != "defaults" {
		t.Errorf("reset row = %+v", h)
	}
}

// TestConfigManager_ResetOnDefaultsIsRecorded - сброс без изменений всё равно оставляет событие
func TestConfigManager_ResetOnDefaultsIsRecorded(t *testing.T) {
	store := NewMockSettingsStore()
	notifier := &MockNotifier{}
	m := newLoadedManager(t, store, "p")
	m.SetNotifier(notifier)
	ctx := context.Background()

	snap, err := m.Reset(ctx, models.SectionAutomation, "ui")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if snap.Version != 2 || snap.ChangedBy != "ui" {
		t.Errorf("snapshot v%d by %q, want v2 by ui", snap.Version, snap.ChangedBy)
	}

	stored, _ := store.Get(ctx, models.SectionAutomation)
	if meta := stored.Document.Metadata; meta.Event != models.EventReset || len(meta.PreviousValues) != 0 {
		t.Errorf("metadata = %+v, want reset without previous values", meta)
	}

	history, _ := m.History(ctx, models.SectionAutomation, 10)
	if len(history) != 2 {
		t.Fatalf("history len = %d, want init and reset", len(history))
	}
	if h := history[0]; h.Event != models.EventReset || h.OldValue != "" || h.NewValue != "defaults" || h.Version != 2 {
		t.Errorf("reset row = %+v", h)
	}
	if notifier.versions[models.SectionAutomation] != 2 {
		t.Errorf("notified version = %d, want 2", notifier.versions[models.SectionAutomation])
	}
}

// TestConfigManager_SnapshotIsImmutable - читатель видит целостный снимок во время записи
func TestConfigManager_SnapshotIsImmutable(t *testing.T) {
	m := newLoadedManager(t, NewMockSettingsStore(), "p")
	before := m.Snapshot(models.SectionProfitMonitor)

	if _, err := m.UpdateBulk(context.Background(), models.SectionProfitMonitor, map[string]any{
		"min_profit_percent":    2.0,
		"trailing_stop_percent": 0.5,
	}, ""); err != nil {
		t.Fatal(err)
	}

	if before.Float("min_profit_percent") != 0.5 || before.Float("trailing_stop_percent") != 0.2 {
		t.Errorf("old snapshot mutated: %v", before.All())
	}
	after := m.Snapshot(models.SectionProfitMonitor)
	if after.Float("min_profit_percent") != 2.0 || after.Float("trailing_stop_percent") != 0.5 {
		t.Errorf("new snapshot = %v", after.All())
	}
}

func TestConfigManager_LogLevelApplied(t *testing.T) {
	m := newLoadedManager(t, NewMockSettingsStore(), "p")
	logger := utils.InitLogger(utils.LogConfig{Level: "info", Output: "stderr"})
	m.SetLogger(logger)

	if _, err := m.Set(context.Background(), models.SectionProfitMonitor, "log_level", "debug", ""); err != nil {
		t.Fatal(err)
	}
	if logger.Level() != zapcore.DebugLevel {
		t.Errorf("level = %v, want debug", logger.Level())
	}

	if _, err := m.Set(context.Background(), models.SectionProfitMonitor, "log_level", "WARNING", ""); err != nil {
		t.Fatal(err)
	}
	if logger.Level() != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", logger.Level())
	}
}

func TestConfigManager_OnChange(t *testing.T) {
	m := newLoadedManager(t, NewMockSettingsStore(), "p")

	var got []*models.ParamSnapshot
	m.OnChange(func(s *models.ParamSnapshot) { got = append(got, s) })

	if _, err := m.Set(context.Background(), models.SectionProfitScouting, "targets_mode", "global", ""); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Section != models.SectionProfitScouting || got[0].String("targets_mode") != "global" {
		t.Errorf("listener calls = %+v", got)
	}
}

// TestWatcher_PropagationBound - изменение из другого процесса установлено не позже T + P
func TestWatcher_PropagationBound(t *testing.T) {
	store := NewMockSettingsStore()
	writer := newLoadedManager(t, store, "server")
	reader := newLoadedManager(t, store, "monitor")
	ctx := context.Background()

	const interval = 5 * time.Second
	w := NewWatcher(reader, interval)
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if changed, err := w.Poll(ctx, t0); err != nil || len(changed) != 0 {
		t.Fatalf("initial Poll() = %v, %v", changed, err)
	}

	writeAt := t0.Add(time.Second)
	writer.SetClock(func() time.Time { return writeAt })
	if _, err := writer.Set(ctx, models.SectionProfitMonitor, "trailing_stop_percent", 0.35, "ui"); err != nil {
		t.Fatal(err)
	}

	installedAt := time.Time{}
	for now := t0.Add(time.Second); now.Before(t0.Add(20 * time.Second)); now = now.Add(time.Second) {
		changed, err := w.Poll(ctx, now)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if len(changed) > 0 {
			installedAt = now
			break
		}
	}

	if installedAt.IsZero() {
		t.Fatal("change never installed")
	}
	if installedAt.After(writeAt.Add(interval)) {
		t.Errorf("installed at %v, later than write %v + %v", installedAt, writeAt, interval)
	}
	if got := reader.Snapshot(models.SectionProfitMonitor).Float("trailing_stop_percent"); got != 0.35 {
		t.Errorf("reader trailing_stop_percent = %v, want 0.35", got)
	}
}

func TestWatcher_PollSkipsInsideInterval(t *testing.T) {
	store := NewMockSettingsStore()
	reader := newLoadedManager(t, store, "monitor")
	w := NewWatcher(reader, 5*time.Second)

	var checks int
	store.versionFn = func(string) error {
		checks++
		return nil
	}

	t0 := time.Now()
	_, _ = w.Poll(context.Background(), t0)
	first := checks
	_, _ = w.Poll(context.Background(), t0.Add(2*time.Second))
	if checks != first {
		t.Errorf("Poll inside interval checked versions")
	}
	_, _ = w.Poll(context.Background(), t0.Add(5*time.Second))
	if checks == first {
		t.Errorf("Poll after interval did not check versions")
	}
}

func TestWatcher_ErrorKeepsSnapshot(t *testing.T) {
	store := NewMockSettingsStore()
	reader := newLoadedManager(t, store, "monitor")
	w := NewWatcher(reader, time.Second)

	store.versionFn = func(string) error { return errStoreDown }
	if _, err := w.Poll(context.Background(), time.Now()); !errors.Is(err, errStoreDown) {
		t.Errorf("Poll() error = %v, want store error", err)
	}
	if reader.Version(models.SectionProfitMonitor) != 1 {
		t.Errorf("snapshot replaced after failed check")
	}
}

// TestWatcher_NudgeTriggersCheck - сообщение из канала оповещения ускоряет проверку
func TestWatcher_NudgeTriggersCheck(t *testing.T) {
	store := NewMockSettingsStore()
	writer := newLoadedManager(t, store, "server")
	reader := newLoadedManager(t, store, "monitor")

	w := NewWatcher(reader, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if _, err := writer.Set(context.Background(), models.SectionAutomation, "poll_seconds", 3, ""); err != nil {
		t.Fatal(err)
	}
	w.Nudge()

	deadline := time.Now().Add(2 * time.Second)
	for reader.Version(models.SectionAutomation) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("nudge did not trigger reload")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchInterval(t *testing.T) {
	tests := []struct {
		role string
		want time.Duration
	}{
		{models.RoleStandard, 5 * time.Second},
		{models.RoleEnhanced, 3 * time.Second},
		{models.RoleScouting, 5 * time.Second},
		{models.RoleAutomation, 10 * time.Second},
		{"unknown", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := WatchInterval(tt.role); got != tt.want {
			t.Errorf("WatchInterval(%s) = %v, want %v", tt.role, got, tt.want)
		}
	}
}
