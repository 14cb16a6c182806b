package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"profitguard/internal/api/handlers"
	"profitguard/internal/api/middleware"
	"profitguard/internal/service"
)

// Dependencies содержит все зависимости для API handlers.
// Неустановленные сервисы отключают соответствующие маршруты.
type Dependencies struct {
	ConfigManager     service.ConfigManagerInterface
	PositionService   service.PositionServiceInterface
	StatsService      service.StatsServiceInterface
	AutomationService service.AutomationServiceInterface
	HealthService     service.HealthServiceInterface

	// WebSocket поток событий панели
	WebSocket http.HandlerFunc

	// AuthTokenHash - bcrypt хеш API токена; пустой отключает проверку
	AuthTokenHash string
	// AllowedOrigins - origins панели для CORS
	AllowedOrigins []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /settings/
//	│   ├── GET / - все секции
//	│   ├── GET /{section} - значения секции
//	│   ├── GET /{section}/schema - объявленные параметры
//	│   ├── PATCH|POST /{section} - изменить параметры
//	│   ├── POST /{section}/reset - сброс к умолчаниям
//	│   └── GET /{section}/history - журнал изменений
//	├── /positions/
//	│   ├── GET / - живые или закрытые позиции
//	│   ├── POST /close - ручная команда закрытия
//	│   └── GET /{ticket} - позиция
//	├── /commands/ - GET /, GET /{id}
//	├── /operations/ - GET /, GET /{id}
//	├── /account/ - GET /, GET /history
//	├── /stats/ - GET /, GET /top-symbols
//	├── /automation/
//	│   ├── GET|POST /rules, GET|PUT|DELETE /rules/{id}, PATCH /rules/{id}/enabled
//	│   ├── GET /active-pairs, DELETE /active-pairs/{symbol}/{direction}
//	│   └── GET /matches
//	├── /health - сводная проверка (без токена)
//	├── /health/processes - статусы процессов
//	├── /metrics - Prometheus (без токена)
//	└── /ws - WebSocket поток событий
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. Logging
// 3. CORS
// 4. BearerAuth (только /api/v1)
//
// Первые три оборачивают весь роутер, а не маршруты: preflight OPTIONS
// и ответы 404/405 тоже проходят через них.
func SetupRoutes(deps *Dependencies) http.Handler {
	if deps == nil {
		deps = &Dependencies{}
	}
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BearerAuth(deps.AuthTokenHash, "/api/v1/health", "/api/v1/metrics"))

	// Settings routes
	if deps.ConfigManager != nil {
		h := handlers.NewSettingsHandler(deps.ConfigManager)
		api.HandleFunc("/settings", h.ListSections).Methods("GET")
		api.HandleFunc("/settings/{section}", h.GetSection).Methods("GET")
		api.HandleFunc("/settings/{section}", h.UpdateSection).Methods("PATCH", "POST")
		api.HandleFunc("/settings/{section}/schema", h.GetSchema).Methods("GET")
		api.HandleFunc("/settings/{section}/reset", h.ResetSection).Methods("POST")
		api.HandleFunc("/settings/{section}/history", h.GetHistory).Methods("GET")
	}

	// Position, command, operation and account routes
	if deps.PositionService != nil {
		h := handlers.NewPositionHandler(deps.PositionService)
		api.HandleFunc("/positions", h.ListPositions).Methods("GET")
		api.HandleFunc("/positions/close", h.RequestClose).Methods("POST")
		api.HandleFunc("/positions/{ticket:[0-9]+}", h.GetPosition).Methods("GET")
		api.HandleFunc("/commands", h.ListCommands).Methods("GET")
		api.HandleFunc("/commands/{id}", h.GetCommand).Methods("GET")
		api.HandleFunc("/operations", h.ListOperations).Methods("GET")
		api.HandleFunc("/operations/{id}", h.GetOperation).Methods("GET")
		api.HandleFunc("/account", h.GetAccount).Methods("GET")
		api.HandleFunc("/account/history", h.GetAccountHistory).Methods("GET")
	}

	// Stats routes
	if deps.StatsService != nil {
		h := handlers.NewStatsHandler(deps.StatsService)
		api.HandleFunc("/stats", h.GetStats).Methods("GET")
		api.HandleFunc("/stats/top-symbols", h.GetTopSymbols).Methods("GET")
	}

	// Automation routes
	if deps.AutomationService != nil {
		h := handlers.NewAutomationHandler(deps.AutomationService)
		api.HandleFunc("/automation/rules", h.ListRules).Methods("GET")
		api.HandleFunc("/automation/rules", h.CreateRule).Methods("POST")
		api.HandleFunc("/automation/rules/{id}", h.GetRule).Methods("GET")
		api.HandleFunc("/automation/rules/{id}", h.UpdateRule).Methods("PUT")
		api.HandleFunc("/automation/rules/{id}", h.DeleteRule).Methods("DELETE")
		api.HandleFunc("/automation/rules/{id}/enabled", h.SetRuleEnabled).Methods("PATCH")
		api.HandleFunc("/automation/active-pairs", h.ActivePairs).Methods("GET")
		api.HandleFunc("/automation/active-pairs/{symbol}/{direction}", h.DeactivatePair).Methods("DELETE")
		api.HandleFunc("/automation/matches", h.RuleMatches).Methods("GET")
	}

	// Health routes
	if deps.HealthService != nil {
		h := handlers.NewHealthHandler(deps.HealthService)
		api.HandleFunc("/health", h.Health).Methods("GET")
		api.HandleFunc("/health/processes", h.Processes).Methods("GET")
		api.HandleFunc("/health/processes/{id}", h.ForgetProcess).Methods("DELETE")
	}

	api.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket route
	if deps.WebSocket != nil {
		api.HandleFunc("/ws", deps.WebSocket).Methods("GET")
	}

	// mux сбрасывает ErrMethodMismatch на маршрутах подроутера,
	// поэтому 404 и 405 различаются по зарегистрированным путям
	api.NotFoundHandler = newFallback(api)

	// Liveness самого HTTP процесса
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return middleware.Recovery(middleware.Logging(middleware.CORS(deps.AllowedOrigins)(router)))
}

// routeMethods - путь маршрута и его методы
type routeMethods struct {
	path    *regexp.Regexp
	methods []string
}

// newFallback отвечает 405 с заголовком Allow, если путь зарегистрирован
// с другими методами, иначе 404
func newFallback(r *mux.Router) http.Handler {
	var known []routeMethods
	_ = r.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathRegexp()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		re, err := regexp.Compile(tpl)
		if err != nil {
			return nil
		}
		known = append(known, routeMethods{path: re, methods: methods})
		return nil
	})

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var allowed []string
		for _, k := range known {
			if k.path.MatchString(req.URL.Path) {
				allowed = append(allowed, k.methods...)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(allowed) == 0 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found","code":"not_found"}` + "\n"))
			return
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":"method not allowed","code":"bad_request"}` + "\n"))
	})
}
