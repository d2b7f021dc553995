package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"listing_watcher/internal/config"
	"listing_watcher/internal/domain"
	"listing_watcher/internal/storage"
	"listing_watcher/internal/storage/sqlite"
	"listing_watcher/testdata/utils"
)

// slowScraper holds every fetch open for a while and records how many ran at once.
type slowScraper struct {
	records []domain.RawRecord
	hold    time.Duration

	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
}

func (f *slowScraper) Fetch(context.Context, string) ([]domain.RawRecord, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	time.Sleep(f.hold)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return f.records, nil
}

func (f *slowScraper) CheckAllowed(context.Context, string) bool { return true }

type countingNotifier struct {
	mu       sync.Mutex
	newIDs   []int64
	newCalls int
}

func (n *countingNotifier) NotifyNew(_ context.Context, _ domain.Watch, listings []domain.Listing) []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.newCalls++
	out := make([]bool, len(listings))
	for i, l := range listings {
		n.newIDs = append(n.newIDs, l.ID)
		out[i] = true
	}
	return out
}

func (n *countingNotifier) NotifyPriceChange(_ context.Context, _ domain.Watch, listings []domain.Listing) []bool {
	return make([]bool, len(listings))
}

type WatchServiceConcurrencyTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *sqlx.DB
	scraper  *slowScraper
	notifier *countingNotifier
	svc      *WatchService
}

func TestWatchServiceConcurrencyTestSuite(t *testing.T) {
	suite.Run(t, new(WatchServiceConcurrencyTestSuite))
}

func (s *WatchServiceConcurrencyTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sqlite.Open(s.ctx, filepath.Join(s.T().TempDir(), "watcher.db"))
	s.Require().NoError(err)
	s.db = db

	s.scraper = &slowScraper{
		records: []domain.RawRecord{{ID: 123, Title: "RTX 3080", Price: utils.Ptr(int64(100000))}},
		hold:    50 * time.Millisecond,
	}
	s.notifier = &countingNotifier{}

	s.svc = NewWatchService(
		s.scraper,
		sqlite.NewWatchStore(db),
		sqlite.NewListingStore(db),
		storage.NewTransactionManager(db),
		s.notifier,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		config.ScraperConfig{},
	)
}

func (s *WatchServiceConcurrencyTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *WatchServiceConcurrencyTestSuite) TestScheduledAndOnDemandChecksDoNotOverlap() {
	w, err := s.svc.watches.Create(s.ctx, "https://hardverapro.hu/aprok/keres.php?stext=rtx")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.svc.Process(s.ctx, *w)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.svc.ProcessByID(s.ctx, w.ID)
	}()
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])
	s.Equal(2, s.scraper.calls)
	s.Equal(1, s.scraper.maxActive)
	s.Equal(1, s.notifier.newCalls)
	s.Equal([]int64{123}, s.notifier.newIDs)

	active, err := s.svc.listings.ActiveByWatch(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Len(active, 1)
}

func (s *WatchServiceConcurrencyTestSuite) TestDifferentWatchesRunInParallel() {
	a, err := s.svc.watches.Create(s.ctx, "https://example.com/a")
	s.Require().NoError(err)
	b, err := s.svc.watches.Create(s.ctx, "https://example.com/b")
	s.Require().NoError(err)

	s.scraper.records = nil

	var wg sync.WaitGroup
	for _, w := range []*domain.Watch{a, b} {
		wg.Add(1)
		go func(w domain.Watch) {
			defer wg.Done()
			_, err := s.svc.Process(s.ctx, w)
			s.NoError(err)
		}(*w)
	}
	wg.Wait()

	s.Equal(2, s.scraper.maxActive)
}

func (s *WatchServiceConcurrencyTestSuite) TestWaitingForBusyWatchHonoursContext() {
	w, err := s.svc.watches.Create(s.ctx, "https://example.com/busy")
	s.Require().NoError(err)

	unlock, err := s.svc.lockWatch(s.ctx, w.ID)
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err = s.svc.Process(ctx, *w)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Zero(s.scraper.calls)
}
