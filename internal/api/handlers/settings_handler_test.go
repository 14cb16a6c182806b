package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"profitguard/internal/models"
)

// ============ SettingsHandler Tests ============

func sectionRequest(method, target, section, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return mux.SetURLVars(req, map[string]string{"section": section})
}

func TestSettingsHandler_ListSections(t *testing.T) {
	handler := NewSettingsHandler(NewMockConfigManager())

	w := httptest.NewRecorder()
	handler.ListSections(w, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var sections []SectionResponse
	if err := json.NewDecoder(w.Body).Decode(&sections); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if sections[0].Section != models.SectionAutomation || sections[0].Version != 1 {
		t.Errorf("first section = %+v", sections[0])
	}
}

func TestSettingsHandler_GetSection(t *testing.T) {
	handler := NewSettingsHandler(NewMockConfigManager())

	t.Run("returns values and version", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetSection(w, sectionRequest(http.MethodGet, "/api/v1/settings/profit_monitor", "profit_monitor", ""))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var resp SectionResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Version != 1 || resp.Values["trailing_stop_percent"] != 0.2 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("returns 404 for unknown section", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetSection(w, sectionRequest(http.MethodGet, "/api/v1/settings/nope", "nope", ""))

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
		var resp ErrorResponse
		_ = json.NewDecoder(w.Body).Decode(&resp)
		if resp.Code != CodeNotFound {
			t.Errorf("code = %s", resp.Code)
		}
	})
}

func TestSettingsHandler_GetSchema(t *testing.T) {
	handler := NewSettingsHandler(NewMockConfigManager())

	w := httptest.NewRecorder()
	handler.GetSchema(w, sectionRequest(http.MethodGet, "/api/v1/settings/automation/schema", "automation", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp SchemaResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Params) != 2 || resp.Params[0].Key != "active_ttl_seconds" || *resp.Params[0].Min != 5 {
		t.Errorf("schema = %+v", resp)
	}
}

func TestSettingsHandler_UpdateSection(t *testing.T) {
	tests := []struct {
		name       string
		section    string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"valid update", "profit_monitor", `{"trailing_stop_percent": 0.7, "check_interval": 5}`, http.StatusOK, ""},
		{"out of range", "profit_monitor", `{"trailing_stop_percent": 500}`, http.StatusBadRequest, CodeValidation},
		{"unknown key", "profit_monitor", `{"stop_everything": true}`, http.StatusBadRequest, CodeValidation},
		{"empty body object", "profit_monitor", `{}`, http.StatusBadRequest, CodeBadRequest},
		{"malformed json", "profit_monitor", `{"trailing`, http.StatusBadRequest, CodeBadRequest},
		{"unknown section", "nope", `{"a": 1}`, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewMockConfigManager()
			handler := NewSettingsHandler(cfg)

			req := sectionRequest(http.MethodPatch, "/api/v1/settings/"+tt.section, tt.section, tt.body)
			req.Header.Set("X-Changed-By", "dashboard")
			w := httptest.NewRecorder()
			handler.UpdateSection(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var resp SectionResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatal(err)
				}
				if resp.Version != 2 || resp.ChangedBy != "dashboard" || resp.Values["trailing_stop_percent"] != 0.7 {
					t.Errorf("response = %+v", resp)
				}
				return
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
			if snap, _ := cfg.GetAll("profit_monitor"); snap.Version != 1 {
				t.Errorf("rejected update changed version to %d", snap.Version)
			}
		})
	}
}

func TestSettingsHandler_ValidationFields(t *testing.T) {
	handler := NewSettingsHandler(NewMockConfigManager())

	req := sectionRequest(http.MethodPatch, "/api/v1/settings/automation", "automation",
		`{"active_ttl_seconds": 1, "poll_seconds": 0}`)
	w := httptest.NewRecorder()
	handler.UpdateSection(w, req)

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Fields) != 2 || resp.Fields[0].Field != "active_ttl_seconds" {
		t.Errorf("fields = %+v", resp.Fields)
	}
}

func TestSettingsHandler_ResetSection(t *testing.T) {
	cfg := NewMockConfigManager()
	handler := NewSettingsHandler(cfg)

	if _, err := cfg.UpdateBulk(context.Background(), "automation", map[string]any{"active_ttl_seconds": 90}, "test"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	handler.ResetSection(w, sectionRequest(http.MethodPost, "/api/v1/settings/automation/reset", "automation", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp SectionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != 3 || resp.Values["active_ttl_seconds"] != float64(30) || resp.ChangedBy != "api" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSettingsHandler_GetHistory(t *testing.T) {
	cfg := NewMockConfigManager()
	handler := NewSettingsHandler(cfg)

	t.Run("empty history is an array", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetHistory(w, sectionRequest(http.MethodGet, "/api/v1/settings/automation/history", "automation", ""))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("returns entries", func(t *testing.T) {
		cfg.history = []models.SettingsChange{
			{ID: 2, Section: "automation", Event: models.EventUpdate, Key: "poll_seconds", OldValue: "10", NewValue: "20", Version: 2},
		}
		w := httptest.NewRecorder()
		handler.GetHistory(w, sectionRequest(http.MethodGet, "/api/v1/settings/automation/history?limit=5", "automation", ""))

		var resp []models.SettingsChange
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if len(resp) != 1 || resp[0].NewValue != "20" {
			t.Errorf("history = %+v", resp)
		}
	})
}
