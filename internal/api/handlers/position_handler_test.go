package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"profitguard/internal/models"
	"profitguard/internal/service"
)

// ============ PositionHandler Tests ============

func newPositionFixture() (*PositionHandler, *MockPositionService) {
	svc := NewMockPositionService()
	svc.positions[1001] = &models.Position{Ticket: 1001, Symbol: "EURUSD", Status: models.StatusOpen}
	svc.positions[1002] = &models.Position{Ticket: 1002, Symbol: "XAUUSD", Status: models.StatusPendingClose}
	svc.positions[990] = &models.Position{Ticket: 990, Symbol: "GBPJPY", Status: models.StatusClosed}
	return NewPositionHandler(svc), svc
}

func TestPositionHandler_ListPositions(t *testing.T) {
	handler, svc := newPositionFixture()

	t.Run("live by default", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var list []models.Position
		if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].Ticket != 1001 || list[1].Ticket != 1002 {
			t.Errorf("positions = %+v", list)
		}
	})

	t.Run("closed with hours", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions?status=closed&hours=6&limit=10", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if svc.lastHours != 6 || svc.lastLimit != 10 {
			t.Errorf("hours = %d, limit = %d", svc.lastHours, svc.lastLimit)
		}
	})

	t.Run("closed with bad range", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions?status=closed&hours=9999", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions?status=zombie", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		svc.err = ErrMockDatabase
		defer func() { svc.err = nil }()

		w := httptest.NewRecorder()
		handler.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestPositionHandler_GetPosition(t *testing.T) {
	handler, _ := newPositionFixture()

	tests := []struct {
		ticket     string
		wantStatus int
	}{
		{"1001", http.StatusOK},
		{"4242", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
		{"-5", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.ticket, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/positions/"+tt.ticket, nil),
				map[string]string{"ticket": tt.ticket})
			w := httptest.NewRecorder()
			handler.GetPosition(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestPositionHandler_RequestClose(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"single live", `{"operation_type": "single", "ticket": 1001}`, http.StatusAccepted},
		{"profit", `{"operation_type": "profit"}`, http.StatusAccepted},
		{"all uppercase", `{"operation_type": "ALL"}`, http.StatusAccepted},
		{"single pending close", `{"operation_type": "single", "ticket": 1002}`, http.StatusAccepted},
		{"single closed", `{"operation_type": "single", "ticket": 990}`, http.StatusConflict},
		{"single unknown ticket", `{"operation_type": "single", "ticket": 7}`, http.StatusNotFound},
		{"unknown type", `{"operation_type": "half"}`, http.StatusBadRequest},
		{"bad body", `not json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, svc := newPositionFixture()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/positions/close", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.RequestClose(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusAccepted {
				if len(svc.commands) != 0 {
					t.Error("rejected request queued a command")
				}
				return
			}
			var cmd models.CloseCommand
			if err := json.NewDecoder(w.Body).Decode(&cmd); err != nil {
				t.Fatal(err)
			}
			if cmd.Status != models.CommandPending || cmd.RequestedBy != "api" {
				t.Errorf("command = %+v", cmd)
			}
		})
	}
}

func TestPositionHandler_Commands(t *testing.T) {
	handler, svc := newPositionFixture()
	if _, err := svc.RequestClose(context.Background(), "loss", 0, "dashboard"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	handler.ListCommands(w, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	var list []models.CloseCommand
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].OperationType != models.OpLoss {
		t.Errorf("commands = %+v", list)
	}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/commands/1", nil), map[string]string{"id": "1"})
	w = httptest.NewRecorder()
	handler.GetCommand(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/commands/9", nil), map[string]string{"id": "9"})
	w = httptest.NewRecorder()
	handler.GetCommand(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestPositionHandler_Operations(t *testing.T) {
	handler, svc := newPositionFixture()
	svc.operations[5] = &service.OperationDetail{
		CloseOperation: &models.CloseOperation{ID: 5, OperationType: models.OpProfit, PositionsClosed: 2, TotalProfitClosed: 41.5},
		Results:        []models.CloseResult{},
	}

	w := httptest.NewRecorder()
	handler.ListOperations(w, httptest.NewRequest(http.MethodGet, "/api/v1/operations?limit=20", nil))
	if w.Code != http.StatusOK || svc.lastLimit != 20 {
		t.Errorf("status = %d, limit = %d", w.Code, svc.lastLimit)
	}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/operations/5", nil), map[string]string{"id": "5"})
	w = httptest.NewRecorder()
	handler.GetOperation(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var op struct {
		ID                int64   `json:"id"`
		TotalProfitClosed float64 `json:"total_profit_closed"`
		Results           []any   `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&op); err != nil {
		t.Fatal(err)
	}
	if op.ID != 5 || op.TotalProfitClosed != 41.5 || op.Results == nil {
		t.Errorf("operation = %+v", op)
	}

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/operations/6", nil), map[string]string{"id": "6"})
	w = httptest.NewRecorder()
	handler.GetOperation(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestPositionHandler_Account(t *testing.T) {
	handler, svc := newPositionFixture()

	w := httptest.NewRecorder()
	handler.GetAccount(w, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d without snapshots, got %d", http.StatusNotFound, w.Code)
	}

	svc.account = &models.AccountSnapshot{Balance: 10000, Equity: 10120.5}
	w = httptest.NewRecorder()
	handler.GetAccount(w, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	w = httptest.NewRecorder()
	handler.GetAccountHistory(w, httptest.NewRequest(http.MethodGet, "/api/v1/account/history?hours=48", nil))
	if w.Code != http.StatusOK || svc.lastHours != 48 {
		t.Errorf("status = %d, hours = %d", w.Code, svc.lastHours)
	}

	w = httptest.NewRecorder()
	handler.GetAccountHistory(w, httptest.NewRequest(http.MethodGet, "/api/v1/account/history?hours=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
