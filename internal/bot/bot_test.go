package bot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/notify"
)

type fakeManager struct {
	watches    map[int64]*domain.Watch
	listings   []domain.Listing
	alerts     map[int64]bool
	lastTarget *domain.NotificationTarget
}

func (f *fakeManager) AddWatch(_ context.Context, url string) (*domain.Watch, error) {
	w := &domain.Watch{ID: int64(len(f.watches) + 1), URL: url}
	f.watches[w.ID] = w
	return w, nil
}

func (f *fakeManager) GetWatch(_ context.Context, id int64) (*domain.Watch, error) {
	w, ok := f.watches[id]
	if !ok {
		return nil, domain.NewNotFound("watch", id)
	}
	return w, nil
}

func (f *fakeManager) ListWatches(context.Context) ([]domain.Watch, error) {
	out := make([]domain.Watch, 0, len(f.watches))
	for id := int64(1); id <= int64(len(f.watches)); id++ {
		if w, ok := f.watches[id]; ok {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeManager) RemoveWatch(_ context.Context, id int64) error {
	if _, ok := f.watches[id]; !ok {
		return domain.NewNotFound("watch", id)
	}
	delete(f.watches, id)
	return nil
}

func (f *fakeManager) SetNotificationTarget(_ context.Context, id int64, target domain.NotificationTarget) error {
	w, ok := f.watches[id]
	if !ok {
		return domain.NewNotFound("watch", id)
	}
	w.NotifyOn = &target
	f.lastTarget = &target
	return nil
}

func (f *fakeManager) SetWebhook(_ context.Context, id int64, url string) error {
	w, ok := f.watches[id]
	if !ok {
		return domain.NewNotFound("watch", id)
	}
	w.Webhook = &url
	return nil
}

func (f *fakeManager) ClearWebhook(_ context.Context, id int64) error {
	w, ok := f.watches[id]
	if !ok {
		return domain.NewNotFound("watch", id)
	}
	w.Webhook = nil
	return nil
}

func (f *fakeManager) SetPriceAlert(_ context.Context, _, listingID int64, enabled bool) error {
	f.alerts[listingID] = enabled
	return nil
}

func (f *fakeManager) Listings(_ context.Context, watchID int64, _ bool) ([]domain.Listing, error) {
	if _, ok := f.watches[watchID]; !ok {
		return nil, domain.NewNotFound("watch", watchID)
	}
	return f.listings, nil
}

type fakeJobs struct {
	submitted []int64
	err       error
}

func (f *fakeJobs) Submit(_ domain.JobType, watchID int64) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, watchID)
	return &domain.Job{ID: "abc", WatchID: watchID, Status: domain.JobQueued}, nil
}

type sentMessage struct {
	target domain.NotificationTarget
	text   string
}

type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) SendDirect(_ context.Context, target domain.NotificationTarget, message string, _ notify.SendOptions) bool {
	r.sent = append(r.sent, sentMessage{target: target, text: message})
	return true
}

type HandlerTestSuite struct {
	suite.Suite
	manager *fakeManager
	jobs    *fakeJobs
	sender  *recordingSender
	handler *Handler
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	s.manager = &fakeManager{watches: map[int64]*domain.Watch{}, alerts: map[int64]bool{}}
	s.jobs = &fakeJobs{}
	s.sender = &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = NewHandler(s.manager, s.jobs, s.sender, logger)
}

func (s *HandlerTestSuite) send(text string) string {
	s.handler.Handle(context.Background(), domain.InboundMessage{
		Integration: domain.IntegrationTelegram,
		ChannelID:   "555",
		Text:        text,
		ReceivedAt:  time.Now(),
	})
	s.Require().NotEmpty(s.sender.sent)
	return s.sender.sent[len(s.sender.sent)-1].text
}

func (s *HandlerTestSuite) TestHelp() {
	reply := s.send("/help")
	s.Contains(reply, "/notifyhere")
	s.Equal("555", s.sender.sent[0].target.ChannelID)
	s.Equal(domain.IntegrationTelegram, s.sender.sent[0].target.Integration)
}

func (s *HandlerTestSuite) TestBotSuffixIsStripped() {
	reply := s.send("/HELP@listing_bot")
	s.Contains(reply, "Commands:")
}

func (s *HandlerTestSuite) TestPlainTextIgnored() {
	s.handler.Handle(context.Background(), domain.InboundMessage{Text: "hello"})
	s.handler.Handle(context.Background(), domain.InboundMessage{Text: "   "})
	s.Empty(s.sender.sent)
}

func (s *HandlerTestSuite) TestUnknownCommand() {
	s.Contains(s.send("/frobnicate"), "Unknown command")
}

func (s *HandlerTestSuite) TestAddAndList() {
	s.Contains(s.send("/add https://hardverapro.hu/aprok/keres.php?stext=gpu"), "Watch #1 added")

	reply := s.send("/list")
	s.Contains(reply, "#1 https://hardverapro.hu/aprok/keres.php?stext=gpu")
}

func (s *HandlerTestSuite) TestAddUsage() {
	s.Contains(s.send("/add"), "Usage: /add <url>")
	s.Empty(s.manager.watches)
}

func (s *HandlerTestSuite) TestListEmpty() {
	s.Contains(s.send("/list"), "No watches yet")
}

func (s *HandlerTestSuite) TestRemove() {
	s.send("/add https://example.com")
	s.Contains(s.send("/remove 1"), "removed")
	s.Empty(s.manager.watches)
}

func (s *HandlerTestSuite) TestRemove_NotFound() {
	s.Contains(s.send("/remove 9"), "Not found")
}

func (s *HandlerTestSuite) TestRemove_BadID() {
	s.Contains(s.send("/remove abc"), "invalid id")
}

func (s *HandlerTestSuite) TestNotifyHereUsesMessageChannel() {
	s.send("/add https://example.com")
	s.Contains(s.send("/notifyhere 1"), "will be sent here")

	s.Require().NotNil(s.manager.lastTarget)
	s.Equal(domain.NotificationTarget{ChannelID: "555", Integration: domain.IntegrationTelegram}, *s.manager.lastTarget)
}

func (s *HandlerTestSuite) TestWebhookSetAndClear() {
	s.send("/add https://example.com")

	s.Contains(s.send("/webhook 1 https://hooks.example.com/x"), "Webhook set")
	s.Require().NotNil(s.manager.watches[1].Webhook)

	s.Contains(s.send("/list"), "[webhook]")

	s.Contains(s.send("/clearwebhook 1"), "Webhook removed")
	s.Nil(s.manager.watches[1].Webhook)
}

func (s *HandlerTestSuite) TestRescrapeQueuesJob() {
	s.send("/add https://example.com")
	s.Contains(s.send("/rescrape 1"), "job abc")
	s.Equal([]int64{1}, s.jobs.submitted)
}

func (s *HandlerTestSuite) TestRescrapeUnknownWatch() {
	s.Contains(s.send("/rescrape 3"), "Not found")
	s.Empty(s.jobs.submitted)
}

func (s *HandlerTestSuite) TestRescrapeQueueFull() {
	s.send("/add https://example.com")
	s.jobs.err = domain.NewQueueFull(4)
	s.Contains(s.send("/rescrape 1"), "Too many pending jobs")
}

func (s *HandlerTestSuite) TestPriceAlert() {
	s.Contains(s.send("/pricealert 1 42 on"), "enabled")
	s.True(s.manager.alerts[42])

	s.Contains(s.send("/pricealert 1 42 OFF"), "disabled")
	s.False(s.manager.alerts[42])
}

func (s *HandlerTestSuite) TestPriceAlertBadState() {
	s.Contains(s.send("/pricealert 1 42 maybe"), "on|off")
	s.Empty(s.manager.alerts)
}

func (s *HandlerTestSuite) TestListings() {
	s.send("/add https://example.com")
	price := int64(125000)
	s.manager.listings = []domain.Listing{
		{ID: 7, Title: "RTX 3080", Price: &price, PriceAlert: true},
		{ID: 8, Title: "GTX 1080"},
	}

	reply := s.send("/listings 1")
	s.Contains(reply, "2 active listings")
	s.Contains(reply, "7 RTX 3080 (125 000 Ft) 🔔")
	s.Contains(reply, "8 GTX 1080 (on request)")
}

func (s *HandlerTestSuite) TestListingsTruncated() {
	s.send("/add https://example.com")
	for i := 0; i < maxListingsShown+5; i++ {
		s.manager.listings = append(s.manager.listings, domain.Listing{ID: int64(i + 1), Title: "item"})
	}
	s.Contains(s.send("/listings 1"), "and 5 more")
}

func (s *HandlerTestSuite) TestRunStopsWhenChannelCloses() {
	in := make(chan domain.InboundMessage, 2)
	in <- domain.InboundMessage{Integration: domain.IntegrationLog, ChannelID: "c", Text: "/help"}
	close(in)

	done := make(chan struct{})
	go func() {
		s.handler.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Run did not return after channel closed")
	}
	s.Len(s.sender.sent, 1)
}

func (s *HandlerTestSuite) TestRunStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.handler.Run(ctx, make(chan domain.InboundMessage))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Run did not return after cancel")
	}
}
