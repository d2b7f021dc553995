package service

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"listing_watcher/internal/config"
	"listing_watcher/internal/domain"
)

func (s *WatchServiceTestSuite) TestAddWatch() {
	ctx := context.Background()
	url := "https://hardverapro.hu/aprok/keres.php?stext=ssd"

	s.watches.EXPECT().Create(ctx, url).Return(&domain.Watch{ID: 3, URL: url}, nil)

	watch, err := s.service.AddWatch(ctx, "  "+url+" ")

	s.NoError(err)
	s.Equal(int64(3), watch.ID)
}

func (s *WatchServiceTestSuite) TestAddWatch_RejectsInvalidURL() {
	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "/relative/path"} {
		_, err := s.service.AddWatch(context.Background(), raw)
		s.Equal(domain.TextCodeBadInput, domain.TextCode(err), raw)
	}
}

func (s *WatchServiceTestSuite) TestAddWatch_RobotsDisallowed() {
	ctx := context.Background()
	svc := s.newService(config.ScraperConfig{RespectRobots: true})

	s.scraper.EXPECT().CheckAllowed(ctx, "https://example.com/search").Return(false)

	_, err := svc.AddWatch(ctx, "https://example.com/search")

	s.Equal(domain.TextCodeFetchDisallowed, domain.TextCode(err))
}

func (s *WatchServiceTestSuite) TestSetWebhook() {
	ctx := context.Background()
	s.watches.EXPECT().Get(ctx, int64(1)).Return(&domain.Watch{ID: 1, URL: "https://a"}, nil)
	s.watches.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w *domain.Watch) error {
			s.Require().NotNil(w.Webhook)
			s.Equal("https://hooks.example.com/x", *w.Webhook)
			return nil
		},
	)

	s.NoError(s.service.SetWebhook(ctx, 1, "https://hooks.example.com/x"))
}

func (s *WatchServiceTestSuite) TestSetWebhook_Invalid() {
	err := s.service.SetWebhook(context.Background(), 1, "hooks.example.com")
	s.Equal(domain.TextCodeBadInput, domain.TextCode(err))
}

func (s *WatchServiceTestSuite) TestClearWebhook_KeepsTarget() {
	ctx := context.Background()
	hook := "https://hooks.example.com/x"
	target := &domain.NotificationTarget{ChannelID: "5", Integration: domain.IntegrationTelegram}

	s.watches.EXPECT().Get(ctx, int64(1)).Return(&domain.Watch{ID: 1, Webhook: &hook, NotifyOn: target}, nil)
	s.watches.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w *domain.Watch) error {
			s.Nil(w.Webhook)
			s.Equal(target, w.NotifyOn)
			return nil
		},
	)

	s.NoError(s.service.ClearWebhook(ctx, 1))
}

func (s *WatchServiceTestSuite) TestSetNotificationTarget() {
	ctx := context.Background()
	target := domain.NotificationTarget{ChannelID: "-100", Integration: domain.IntegrationTelegram}

	s.watches.EXPECT().Get(ctx, int64(1)).Return(&domain.Watch{ID: 1}, nil)
	s.watches.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w *domain.Watch) error {
			s.Equal(&target, w.NotifyOn)
			return nil
		},
	)

	s.NoError(s.service.SetNotificationTarget(ctx, 1, target))
}

func (s *WatchServiceTestSuite) TestSetNotificationTarget_Invalid() {
	ctx := context.Background()

	err := s.service.SetNotificationTarget(ctx, 1, domain.NotificationTarget{ChannelID: "1", Integration: "sms"})
	s.Equal(domain.TextCodeBadInput, domain.TextCode(err))

	err = s.service.SetNotificationTarget(ctx, 1, domain.NotificationTarget{Integration: domain.IntegrationLog})
	s.Equal(domain.TextCodeBadInput, domain.TextCode(err))
}

func (s *WatchServiceTestSuite) TestUpdate_WatchNotFound() {
	ctx := context.Background()
	s.watches.EXPECT().Get(ctx, int64(9)).Return(nil, domain.NewNotFound("watch", 9))

	s.True(domain.IsNotFound(s.service.ClearNotificationTarget(ctx, 9)))
}

func (s *WatchServiceTestSuite) TestRemoveWatch() {
	ctx := context.Background()
	s.watches.EXPECT().Delete(ctx, int64(2)).Return(nil)

	s.NoError(s.service.RemoveWatch(ctx, 2))
}

func (s *WatchServiceTestSuite) TestForceRecheck() {
	ctx := context.Background()
	s.watches.EXPECT().ResetChecked(ctx, int64(2)).Return(nil)

	s.NoError(s.service.ForceRecheck(ctx, 2))
}

func (s *WatchServiceTestSuite) TestListings_UnknownWatch() {
	ctx := context.Background()
	s.watches.EXPECT().Get(ctx, int64(4)).Return(nil, domain.NewNotFound("watch", 4))

	_, err := s.service.Listings(ctx, 4, true)
	s.True(domain.IsNotFound(err))
}

func (s *WatchServiceTestSuite) TestListings() {
	ctx := context.Background()
	s.watches.EXPECT().Get(ctx, int64(4)).Return(&domain.Watch{ID: 4}, nil)
	s.listings.EXPECT().ListByWatch(ctx, int64(4), false).Return([]domain.Listing{{ID: 1}}, nil)

	listings, err := s.service.Listings(ctx, 4, false)
	s.NoError(err)
	s.Len(listings, 1)
}

func (s *WatchServiceTestSuite) TestSetPriceAlert() {
	ctx := context.Background()
	s.listings.EXPECT().SetPriceAlert(ctx, int64(1), int64(7), true).Return(nil)

	s.NoError(s.service.SetPriceAlert(ctx, 1, 7, true))
}

func (s *WatchServiceTestSuite) TestDueWatches() {
	ctx := context.Background()
	s.watches.EXPECT().DueForCheck(ctx, 5*time.Minute, s.now).Return([]domain.Watch{s.watch}, nil)

	due, err := s.service.DueWatches(ctx, 5*time.Minute)
	s.NoError(err)
	s.Len(due, 1)
}
