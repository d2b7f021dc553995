package hardverapro

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"listing_watcher/internal/domain"
)

type SourceTestSuite struct {
	suite.Suite
	logger *slog.Logger
	page   []byte
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) SetupSuite() {
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	page, err := os.ReadFile("testdata/search.html")
	s.Require().NoError(err)
	s.page = page
}

func (s *SourceTestSuite) newSource() *Source {
	src := New(Config{Timeout: 2 * time.Second}, s.logger)
	src.now = func() time.Time { return time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC) }
	return src
}

func (s *SourceTestSuite) TestFetch_ParsesListings() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.NotEmpty(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(s.page)
	}))
	defer srv.Close()

	records, err := s.newSource().Fetch(context.Background(), srv.URL+"/aprok/keres.php?stext=rtx")

	s.Require().NoError(err)
	s.Require().Len(records, 3)

	first := records[0]
	s.Equal(int64(123), first.ID)
	s.Equal("RTX 3080 Founders Edition", first.Title)
	s.Equal("https://hardverapro.hu/apro/rtx_3080/friss.html", first.URL)
	s.Require().NotNil(first.Price)
	s.Equal(int64(250000), *first.Price)
	s.Equal("Budapest", first.City)
	s.Equal("2025-11-02 10:15", first.Date)
	s.False(first.Pinned)
	s.Equal("seller_one", first.SellerName)
	s.Equal(srv.URL+"/tag/seller_one.html", first.SellerURL)
	s.Equal("(+12)", first.SellerRates)
	s.Equal(srv.URL+"/dl/uad/rtx.jpg", first.Image)

	second := records[1]
	s.Equal(int64(456), second.ID)
	s.Nil(second.Price)
	s.True(second.Pinned)
	s.Equal("pinned", second.Date)
	s.Equal(srv.URL+"/apro/monitor/friss.html", second.URL)

	third := records[2]
	s.Equal(int64(1500000), *third.Price)
	s.Equal("2024-03-05 00:00", third.Date)
}

func (s *SourceTestSuite) TestFetch_EmptyListIsNotAnError() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="uad-list"></div></body></html>`))
	}))
	defer srv.Close()

	records, err := s.newSource().Fetch(context.Background(), srv.URL)

	s.NoError(err)
	s.Empty(records)
}

func (s *SourceTestSuite) TestFetch_NonOKIsNetworkError() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := s.newSource().Fetch(context.Background(), srv.URL)

	s.Error(err)
	s.Equal(domain.TextCodeNetwork, domain.TextCode(err))
	s.True(domain.IsRetryable(err))
}

func (s *SourceTestSuite) TestFetch_InvalidURL() {
	_, err := s.newSource().Fetch(context.Background(), "not a url")

	s.Equal(domain.TextCodeBadInput, domain.TextCode(err))
}

func (s *SourceTestSuite) TestCheckAllowed_CachesPerOrigin() {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		s.Equal("/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	defer srv.Close()

	src := s.newSource()
	s.True(src.CheckAllowed(context.Background(), srv.URL+"/aprok/keres.php"))
	s.True(src.CheckAllowed(context.Background(), srv.URL+"/other"))
	s.Equal(int32(1), atomic.LoadInt32(&calls))
}

func (s *SourceTestSuite) TestCheckAllowed_DisallowAll() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: / # everything\n"))
	}))
	defer srv.Close()

	s.False(s.newSource().CheckAllowed(context.Background(), srv.URL))
}

func (s *SourceTestSuite) TestCheckAllowed_DefaultsToAllowed() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s.True(s.newSource().CheckAllowed(context.Background(), srv.URL))

	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	s.True(s.newSource().CheckAllowed(context.Background(), addr))
	s.True(s.newSource().CheckAllowed(context.Background(), "::bad::"))
}

func (s *SourceTestSuite) TestParsePrice() {
	cases := map[string]*int64{
		"100 000 Ft": ptr(100000),
		"1,5M Ft":    ptr(1500000),
		"1.2M Ft":    ptr(1200000),
		"2M Ft":      ptr(2000000),
		"5 000 Ft": ptr(5000),
		"Keresem":    nil,
		"":           nil,
		"ingyenes":   nil,
	}
	for in, want := range cases {
		got := parsePrice(in)
		if want == nil {
			s.Nil(got, "input %q", in)
			continue
		}
		s.Require().NotNil(got, "input %q", in)
		s.Equal(*want, *got, "input %q", in)
	}
}

func (s *SourceTestSuite) TestParseDate() {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	date, pinned := parseDate("tegnap 23:59", now)
	s.Equal("2024-12-31 23:59", date)
	s.False(pinned)

	date, _ = parseDate("ma 07:30", now)
	s.Equal("2025-01-01 07:30", date)

	date, pinned = parseDate("Előresorolva", now)
	s.Equal("pinned", date)
	s.True(pinned)

	date, _ = parseDate("2024-13-40", now)
	s.Equal("", date)

	date, _ = parseDate("last week", now)
	s.Equal("", date)
}

func (s *SourceTestSuite) TestDisallowsAll() {
	s.True(disallowsAll(strings.NewReader("disallow: /")))
	s.False(disallowsAll(strings.NewReader("Disallow: /private\nAllow: /")))
	s.False(disallowsAll(strings.NewReader("")))
}

func (s *SourceTestSuite) TestResolve() {
	base, _ := url.Parse("https://hardverapro.hu/aprok/keres.php")
	s.Equal("https://hardverapro.hu/apro/x.html", resolve(base, "/apro/x.html"))
	s.Equal("https://cdn.example.com/a.jpg", resolve(base, "https://cdn.example.com/a.jpg"))
	s.Equal("", resolve(base, " "))
}

func ptr(v int64) *int64 { return &v }
