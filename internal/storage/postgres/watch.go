package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/storage"
)

type WatchStore struct {
	db *sqlx.DB
}

func NewWatchStore(db *sqlx.DB) *WatchStore {
	return &WatchStore{db: db}
}

func (s *WatchStore) Create(ctx context.Context, url string) (*domain.Watch, error) {
	query := `INSERT INTO watches (url) VALUES ($1) RETURNING ` + storage.WatchColumns

	var row storage.WatchRow
	if err := sqlx.GetContext(ctx, storage.GetExecutor(ctx, s.db), &row, query, url); err != nil {
		return nil, fmt.Errorf("insert watch: %w", err)
	}
	w := row.ToDomain()
	return &w, nil
}

func (s *WatchStore) Get(ctx context.Context, id int64) (*domain.Watch, error) {
	query := `SELECT ` + storage.WatchColumns + ` FROM watches WHERE id = $1`

	var row storage.WatchRow
	err := sqlx.GetContext(ctx, storage.GetExecutor(ctx, s.db), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("watch", id)
	}
	if err != nil {
		return nil, err
	}
	w := row.ToDomain()
	return &w, nil
}

func (s *WatchStore) List(ctx context.Context) ([]domain.Watch, error) {
	query := `SELECT ` + storage.WatchColumns + ` FROM watches ORDER BY id`
	return s.selectWatches(ctx, query)
}

func (s *WatchStore) Update(ctx context.Context, watch *domain.Watch) error {
	channelID, integration := storage.TargetColumns(watch.NotifyOn)
	query := `
		UPDATE watches SET
			url = $2,
			notify_channel_id = $3,
			notify_integration = $4,
			webhook = $5
		WHERE id = $1`

	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query,
		watch.ID,
		watch.URL,
		channelID,
		integration,
		storage.NullString(watch.Webhook),
	)
	return expectRow(res, err, watch.ID)
}

// Delete removes the watch; its listings go with it through ON DELETE CASCADE.
func (s *WatchStore) Delete(ctx context.Context, id int64) error {
	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, `DELETE FROM watches WHERE id = $1`, id)
	return expectRow(res, err, id)
}

// MarkChecked never moves last_checked backwards.
func (s *WatchStore) MarkChecked(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE watches SET last_checked = GREATEST(last_checked, $2) WHERE id = $1`
	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, query, id, at.Unix())
	return expectRow(res, err, id)
}

func (s *WatchStore) ResetChecked(ctx context.Context, id int64) error {
	res, err := storage.GetExecutor(ctx, s.db).ExecContext(ctx, `UPDATE watches SET last_checked = 0 WHERE id = $1`, id)
	return expectRow(res, err, id)
}

func (s *WatchStore) DueForCheck(ctx context.Context, interval time.Duration, now time.Time) ([]domain.Watch, error) {
	query := `SELECT ` + storage.WatchColumns + ` FROM watches WHERE last_checked <= $1 ORDER BY last_checked, id`
	return s.selectWatches(ctx, query, storage.DueThreshold(interval, now))
}

func (s *WatchStore) selectWatches(ctx context.Context, query string, args ...any) ([]domain.Watch, error) {
	var rows []storage.WatchRow
	if err := sqlx.SelectContext(ctx, storage.GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, err
	}

	watches := make([]domain.Watch, 0, len(rows))
	for _, r := range rows {
		watches = append(watches, r.ToDomain())
	}
	return watches, nil
}

func expectRow(res sql.Result, err error, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFound("watch", id)
	}
	return nil
}
