package automation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/ratelimit"
	"profitguard/pkg/retry"
	"profitguard/pkg/utils"
)

// FetchMeta - диагностика получения сигналов для статуса процесса
type FetchMeta struct {
	Source  string        `json:"source"`
	Pages   int           `json:"pages"`
	Signals int           `json:"signals"`
	Elapsed time.Duration `json:"elapsed"`
}

// Source - поставщик сигналов
type Source interface {
	Fetch(ctx context.Context) ([]models.Signal, FetchMeta, error)
}

// ============================================================
// Файл
// ============================================================

// FileSource читает сигналы из JSON файла (выгрузка или тестовый стенд)
type FileSource struct {
	Path string
	now  func() time.Time
}

// NewFileSource создает источник из файла
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, now: time.Now}
}

// Fetch читает и разбирает файл целиком
func (s *FileSource) Fetch(ctx context.Context) ([]models.Signal, FetchMeta, error) {
	start := s.now()
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, FetchMeta{}, fmt.Errorf("read signal file: %w", err)
	}
	signals, err := ParseSignals(raw, start.UTC())
	if err != nil {
		return nil, FetchMeta{}, fmt.Errorf("%s: %w", s.Path, err)
	}
	return signals, FetchMeta{
		Source:  "file",
		Pages:   1,
		Signals: len(signals),
		Elapsed: s.now().Sub(start),
	}, nil
}

// ============================================================
// HTTP API сигналов
// ============================================================

// Режимы передачи ключа API
const (
	AuthBearer  = "bearer"
	AuthAPIKey  = "x_api_key"
	AuthQuery   = "query"
	AuthNone    = "none"
	defaultPath = "/api/third-party/signals"
)

// HTTPSourceConfig - настройки HTTP источника
type HTTPSourceConfig struct {
	URL        string
	APIKey     string
	AuthMode   string // bearer, x_api_key, query, none
	QueryParam string // имя параметра ключа в режиме query (default: api_key)

	Timeout    time.Duration // на один запрос (default: 15s)
	MaxRetries int           // повторы одной страницы (default: 3)
	Backoff    time.Duration // начальная пауза между повторами (default: 1s)
	PageSize   int           // default: 200
	MaxPages   int           // предохранитель (default: 50)
	RateLimit  float64       // запросов в секунду (default: 5)
}

// HTTPSource постранично получает сигналы из внешнего API
type HTTPSource struct {
	cfg     HTTPSourceConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	log     *utils.Logger
}

// NewHTTPSource создает источник. URL без пути дополняется путём API сигналов.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid signals url %q", cfg.URL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	cfg.URL = u.String()

	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthBearer
	}
	cfg.AuthMode = strings.ToLower(cfg.AuthMode)
	if cfg.QueryParam == "" {
		cfg.QueryParam = "api_key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}

	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.NewLimiter(cfg.RateLimit, cfg.RateLimit),
		log:     utils.L().WithComponent("signal_source"),
	}, nil
}

// SetSleep подменяет ожидание между повторами
func (s *HTTPSource) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}

// Fetch получает все страницы.
// Переход на следующую страницу: ссылка next, page/total_pages или полная страница.
func (s *HTTPSource) Fetch(ctx context.Context) ([]models.Signal, FetchMeta, error) {
	start := time.Now()
	meta := FetchMeta{Source: "api"}

	var all []models.Signal
	nextURL, page := s.cfg.URL, 1
	for nextURL != "" && meta.Pages < s.cfg.MaxPages {
		meta.Pages++

		root, err := s.getPage(ctx, nextURL, page)
		if err != nil {
			return nil, meta, err
		}
		signals, err := parseRoot(root, time.Now().UTC())
		if err != nil {
			return nil, meta, err
		}
		all = append(all, signals...)

		var more bool
		nextURL, page, more = nextPage(root, nextURL, page, s.cfg.PageSize)
		if !more {
			break
		}
	}

	meta.Signals = len(all)
	meta.Elapsed = time.Since(start)
	return all, meta, nil
}

func (s *HTTPSource) getPage(ctx context.Context, rawURL string, page int) (interface{}, error) {
	cfg := retry.Backoff(s.cfg.MaxRetries, s.cfg.Backoff, 30*time.Second)
	cfg.Sleep = s.sleep
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.log.Warn("signal fetch failed, retrying",
			utils.Attempt(attempt), utils.Dur("delay", delay), utils.Err(err))
	}

	return retry.DoWithResult(ctx, func() (interface{}, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		req, err := s.newRequest(ctx, rawURL, page)
		if err != nil {
			return nil, retry.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, retry.Permanent(err)
			}
			return nil, retry.Temporary(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			snippet := strings.TrimSpace(string(body))
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			err := fmt.Errorf("signals api status %d: %s", resp.StatusCode, snippet)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}

		var root interface{}
		if err := json.Unmarshal(body, &root); err != nil {
			return nil, retry.Permanent(fmt.Errorf("decode signals: %w", err))
		}
		return root, nil
	}, cfg)
}

func (s *HTTPSource) newRequest(ctx context.Context, rawURL string, page int) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.cfg.PageSize))
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	key := strings.TrimSpace(s.cfg.APIKey)
	if key != "" && s.cfg.AuthMode == AuthQuery {
		q.Set(s.cfg.QueryParam, key)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "profitguard-automation/1.0")

	if key == "" {
		return req, nil
	}
	switch s.cfg.AuthMode {
	case AuthBearer:
		if strings.HasPrefix(strings.ToLower(key), "bearer ") {
			req.Header.Set("Authorization", key)
		} else {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	case AuthAPIKey:
		req.Header.Set("X-API-KEY", key)
	}
	return req, nil
}
