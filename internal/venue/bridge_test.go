package venue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"profitguard/internal/models"
)

func newTestBridge(t *testing.T, handler http.HandlerFunc) *BridgeVenue {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := NewBridgeVenue(Config{Kind: "bridge", BaseURL: srv.URL + "/", Token: "secret", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewBridgeVenue: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewBridgeVenueRequiresURL(t *testing.T) {
	if _, err := NewBridgeVenue(Config{Kind: "bridge"}); err == nil {
		t.Error("expected error for empty base url")
	}
}

func TestBridgeListOpenPositions(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `{"retcode":0,"data":[
			{"ticket":555,"symbol":"EURUSD","type":0,"volume":1.0,"price_open":1.1,"price_current":1.12,"profit":20,"time":1700000000,"magic":7},
			{"ticket":556,"symbol":"XAUUSD","type":1,"volume":0.5,"price_open":2000,"price_current":1990,"profit":5,"time":1700000100}
		]}`)
	})

	positions, err := b.ListOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].Ticket != 555 || positions[0].Side != models.SideBuy || positions[0].Magic != 7 {
		t.Errorf("unexpected first position: %+v", positions[0])
	}
	if positions[1].Side != models.SideSell {
		t.Errorf("type 1 should map to sell, got %s", positions[1].Side)
	}
	if !positions[0].OpenTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("OpenTime = %v", positions[0].OpenTime)
	}
}

func TestBridgeClosePositionOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus CloseStatus
		wantKind   ErrorKind
	}{
		{"done", 200, `{"retcode":10009,"comment":"Request executed"}`, StatusClosed, ""},
		{"position gone", 200, `{"retcode":10036,"comment":"Position already closed"}`, StatusAlreadyClosed, ""},
		{"http not found", 404, `{"comment":"position not found"}`, StatusNotFound, ""},
		{"requote", 200, `{"retcode":10004,"comment":"Requote"}`, "", KindTransient},
		{"timeout", 200, `{"retcode":10012,"comment":"Request timeout"}`, "", KindTransient},
		{"market closed", 200, `{"retcode":10018,"comment":"Market closed"}`, "", KindMarketClosed},
		{"no money", 200, `{"retcode":10019,"comment":"No money"}`, "", KindRejected},
		{"bridge overloaded", 503, ``, "", KindTransient},
		{"rate limited", 429, `{"comment":"slow down"}`, "", KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			status, err := b.ClosePosition(context.Background(), 555, 0)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if status != tt.wantStatus {
					t.Errorf("status = %s, want %s", status, tt.wantStatus)
				}
				return
			}
			if got := Classify(err); got != tt.wantKind {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestBridgeClosePositionFillingFallback(t *testing.T) {
	var mu sync.Mutex
	var fillings []string

	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		var req closeRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		mu.Lock()
		fillings = append(fillings, req.Filling)
		n := len(fillings)
		mu.Unlock()

		if req.Ticket != 555 || req.Volume != 0.4 {
			t.Errorf("unexpected request: %+v", req)
		}
		if n < 3 {
			io.WriteString(w, `{"retcode":10030,"comment":"Unsupported filling mode"}`)
			return
		}
		io.WriteString(w, `{"retcode":10009}`)
	})

	status, err := b.ClosePosition(context.Background(), 555, 0.4)
	if err != nil || status != StatusClosed {
		t.Fatalf("ClosePosition = %s, %v", status, err)
	}
	if strings.Join(fillings, ",") != ",fok,ioc" {
		t.Errorf("filling sequence = %q", strings.Join(fillings, ","))
	}
}

func TestBridgeClosePositionAllFillingsRejected(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retcode":10030,"comment":"Unsupported filling mode"}`)
	})

	_, err := b.ClosePosition(context.Background(), 1, 0)
	var ve *VenueError
	if !errors.As(err, &ve) || ve.Code != RetcodeInvalidFill {
		t.Fatalf("expected invalid fill error, got %v", err)
	}
	if ve.Retryable() {
		t.Error("invalid filling mode should not be retried")
	}
}

func TestBridgeTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.ClosePosition(ctx, 555, 0)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("timeout should be transient, got %v", err)
	}
}

func TestBridgeSymbolInfoCached(t *testing.T) {
	var calls atomic.Int32
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/symbols/XAUUSD" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"retcode":0,"data":{"name":"XAUUSD","path":"Metals\\XAUUSD","volume_step":0.01,"volume_min":0.01,"volume_max":50,"trade_contract_size":100,"session_open":true}}`)
	})

	for i := 0; i < 2; i++ {
		info, err := b.SymbolInfo(context.Background(), "XAUUSD")
		if err != nil {
			t.Fatalf("SymbolInfo: %v", err)
		}
		if info.Category != models.CategoryCommodity || info.VolumeMax != 50 {
			t.Errorf("unexpected info: %+v", info)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("bridge called %d times, want 1", n)
	}
}

func TestBridgeIsMarketOpenAndAccount(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/symbols/EURUSD":
			io.WriteString(w, `{"retcode":0,"data":{"name":"EURUSD","category":"mostTraded","session_open":false}}`)
		case "/account":
			io.WriteString(w, `{"retcode":0,"data":{"balance":1000,"equity":1020,"margin":50,"margin_free":970,"currency":"USD"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	open, err := b.IsMarketOpen(context.Background(), "EURUSD")
	if err != nil || open {
		t.Errorf("IsMarketOpen = %v, %v; want false", open, err)
	}

	acc, err := b.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if acc.Equity != 1020 || acc.FreeMargin != 970 {
		t.Errorf("unexpected account: %+v", acc)
	}
}

func TestRetcodeKind(t *testing.T) {
	tests := map[int]ErrorKind{
		RetcodeRequote:      KindTransient,
		RetcodeConnection:   KindTransient,
		RetcodeTooMany:      KindTransient,
		RetcodeMarketClosed: KindMarketClosed,
		RetcodePositionGone: KindAlreadyClosed,
		RetcodeAutoTrading:  KindRejected,
		RetcodeInvalidFill:  KindRejected,
	}
	for code, want := range tests {
		if got := RetcodeKind(code); got != want {
			t.Errorf("RetcodeKind(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestCategoryFromPath(t *testing.T) {
	tests := map[string]models.Category{
		`Forex\Majors\EURUSD`: models.CategoryCurrency,
		`Crypto\BTCUSD`:       models.CategoryCrypto,
		`Metals\XAUUSD`:       models.CategoryCommodity,
		`Indices\US30`:        models.CategoryOther,
	}
	for path, want := range tests {
		if got := categoryFromPath(path); got != want {
			t.Errorf("categoryFromPath(%q) = %s, want %s", path, got, want)
		}
	}
}
