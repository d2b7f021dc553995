// Package hardverapro scrapes search result pages of hardverapro.hu into raw listing records.
package hardverapro

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"listing_watcher/internal/domain"
)

const maxRobotsBytes = 512 << 10

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Config holds scraper configuration.
type Config struct {
	Timeout    time.Duration
	UserAgents []string
}

// Source fetches and parses listing pages. It is safe for concurrent use.
type Source struct {
	httpClient *http.Client
	userAgents []string
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	robots map[string]bool
}

// New creates a new HardverApró source.
func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgents: agents,
		logger:     logger.With("source", "hardverapro"),
		now:        time.Now,
		robots:     make(map[string]bool),
	}
}

// Fetch downloads pageURL and returns its listings in page order.
func (s *Source) Fetch(ctx context.Context, pageURL string) ([]domain.RawRecord, error) {
	page, err := url.Parse(pageURL)
	if err != nil || page.Scheme == "" || page.Host == "" {
		return nil, domain.NewBadInput("invalid watch url", map[string]any{"url": pageURL})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("fetch listing page", err, map[string]any{"url": pageURL})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewNetworkError(
			fmt.Sprintf("unexpected status: %d", resp.StatusCode), nil,
			map[string]any{"url": pageURL, "status": resp.StatusCode},
		)
	}

	records, err := parsePage(resp.Body, page, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("fetched listing page", "url", pageURL, "records", len(records))
	return records, nil
}

// CheckAllowed reports whether robots.txt at the origin of baseURL permits crawling.
// Results are cached per origin; any failure counts as allowed.
func (s *Source) CheckAllowed(ctx context.Context, baseURL string) bool {
	origin, ok := originOf(baseURL)
	if !ok {
		return true
	}

	s.mu.Lock()
	allowed, cached := s.robots[origin]
	s.mu.Unlock()
	if cached {
		return allowed
	}

	allowed = s.fetchRobots(ctx, origin)

	s.mu.Lock()
	s.robots[origin] = allowed
	s.mu.Unlock()
	return allowed
}

func (s *Source) fetchRobots(ctx context.Context, origin string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return true
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("failed to check robots.txt", "origin", origin, "error", err)
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true
	}
	return !disallowsAll(io.LimitReader(resp.Body, maxRobotsBytes))
}

func (s *Source) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "hu-HU,hu;q=0.9,en-US;q=0.8,en;q=0.5")
	req.Header.Set("User-Agent", s.userAgents[rand.IntN(len(s.userAgents))])
}

// disallowsAll looks for a bare "Disallow: /" rule.
func disallowsAll(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "disallow") && strings.TrimSpace(value) == "/" {
			return true
		}
	}
	return false
}

func originOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}
