package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/repository"
)

type positionFixture struct {
	positions *MockPositionReader
	ops       *MockOperationRepository
	accounts  *MockAccountRepository
	commands  *MockCommandRepository
	hub       *MockPublisher
	svc       *PositionService
}

func newPositionFixture(list ...*models.Position) *positionFixture {
	f := &positionFixture{
		positions: NewMockPositionReader(list...),
		ops:       NewMockOperationRepository(),
		accounts:  &MockAccountRepository{},
		commands:  &MockCommandRepository{},
		hub:       &MockPublisher{},
	}
	f.svc = NewPositionService(f.positions, f.ops, f.accounts, f.commands)
	f.svc.SetWebSocketHub(f.hub)
	f.svc.SetClock(func() time.Time { return statsNow })
	return f
}

func TestPositionService_RequestClose(t *testing.T) {
	closedAt := statsNow.Add(-time.Hour)
	f := newPositionFixture(
		&models.Position{Ticket: 7, Symbol: "EURUSD", Status: models.StatusOpen},
		&models.Position{Ticket: 8, Symbol: "GBPUSD", Status: models.StatusClosed, ClosedAt: &closedAt},
		&models.Position{Ticket: 9, Symbol: "XAUUSD", Status: models.StatusPendingClose},
	)

	tests := []struct {
		name    string
		opType  string
		ticket  int64
		wantErr error
	}{
		{"single live", "single", 7, nil},
		{"single after failed close", "single", 9, nil},
		{"profit ignores ticket", "PROFIT", 99, nil},
		{"all", "all", 0, nil},
		{"unknown type", "half", 0, ErrInvalidOperation},
		{"single without ticket", "single", 0, ErrInvalidTicket},
		{"single missing", "single", 404, repository.ErrPositionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := f.svc.RequestClose(context.Background(), tt.opType, tt.ticket, "ui")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RequestClose() error = %v", err)
			}
			if cmd.ID == 0 || cmd.Status != models.CommandPending || cmd.RequestedBy != "ui" {
				t.Errorf("command = %+v", cmd)
			}
			if cmd.OperationType != models.OpSingle && cmd.Ticket != 0 {
				t.Errorf("ticket %d kept for %s", cmd.Ticket, cmd.OperationType)
			}
		})
	}

	if _, err := f.svc.RequestClose(context.Background(), "single", 8, "ui"); err == nil {
		t.Error("closed position accepted for single close")
	}
	if len(f.commands.commands) != 4 {
		t.Errorf("queued = %d, want 4", len(f.commands.commands))
	}
	if names := f.hub.names(); len(names) != 4 || names[0] != "close_command" {
		t.Errorf("events = %v", names)
	}
}

func TestPositionService_ListLive(t *testing.T) {
	f := newPositionFixture(
		&models.Position{Ticket: 2, Status: models.StatusPendingClose},
		&models.Position{Ticket: 1, Status: models.StatusOpen},
		&models.Position{Ticket: 3, Status: models.StatusClosed},
	)
	list, err := f.svc.ListLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Ticket != 1 || list[1].Ticket != 2 {
		t.Errorf("live = %+v", list)
	}

	empty := newPositionFixture()
	list, _ = empty.svc.ListLive(context.Background())
	if list == nil {
		t.Error("ListLive returned nil slice")
	}
}

func TestPositionService_HistoryRanges(t *testing.T) {
	f := newPositionFixture()
	ctx := context.Background()

	for _, hours := range []int{0, -1, 721} {
		if _, err := f.svc.AccountHistory(ctx, hours); !errors.Is(err, ErrInvalidHistoryRange) {
			t.Errorf("AccountHistory(%d) error = %v", hours, err)
		}
		if _, err := f.svc.RecentlyClosed(ctx, hours, 10); !errors.Is(err, ErrInvalidHistoryRange) {
			t.Errorf("RecentlyClosed(%d) error = %v", hours, err)
		}
	}

	if _, err := f.svc.AccountHistory(ctx, 24); err != nil {
		t.Fatal(err)
	}
	if !f.accounts.to.Equal(statsNow) || !f.accounts.from.Equal(statsNow.Add(-24*time.Hour)) {
		t.Errorf("range = %v..%v", f.accounts.from, f.accounts.to)
	}
	if _, err := f.svc.RecentlyClosed(ctx, 6, 0); err != nil {
		t.Fatal(err)
	}
	if !f.positions.since.Equal(statsNow.Add(-6 * time.Hour)) {
		t.Errorf("since = %v", f.positions.since)
	}
}

func TestPositionService_GetOperation(t *testing.T) {
	f := newPositionFixture()
	f.ops.ops[5] = &models.CloseOperation{ID: 5, Status: models.OperationCompleted}
	f.ops.results[5] = []models.CloseResult{{Ticket: 1, Outcome: models.OutcomeClosed}}

	detail, err := f.svc.GetOperation(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if detail.ID != 5 || len(detail.Results) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	if _, err := f.svc.GetOperation(context.Background(), 6); !errors.Is(err, repository.ErrCloseOperationNotFound) {
		t.Errorf("missing operation error = %v", err)
	}
}
