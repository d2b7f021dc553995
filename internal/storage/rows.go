package storage

import (
	"database/sql"
	"time"

	"listing_watcher/internal/domain"
)

// WatchColumns is the select list matching WatchRow.
const WatchColumns = `id, url, last_checked, notify_channel_id, notify_integration, webhook, created_at`

// WatchRow is the column layout of the watches table, identical across drivers.
type WatchRow struct {
	ID                int64          `db:"id"`
	URL               string         `db:"url"`
	LastChecked       int64          `db:"last_checked"`
	NotifyChannelID   sql.NullString `db:"notify_channel_id"`
	NotifyIntegration sql.NullString `db:"notify_integration"`
	Webhook           sql.NullString `db:"webhook"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (r WatchRow) ToDomain() domain.Watch {
	w := domain.Watch{
		ID:          r.ID,
		URL:         r.URL,
		LastChecked: r.LastChecked,
		CreatedAt:   r.CreatedAt,
	}
	if r.NotifyChannelID.Valid && r.NotifyIntegration.Valid {
		w.NotifyOn = &domain.NotificationTarget{
			ChannelID:   r.NotifyChannelID.String,
			Integration: domain.Integration(r.NotifyIntegration.String),
		}
	}
	if r.Webhook.Valid {
		hook := r.Webhook.String
		w.Webhook = &hook
	}
	return w
}

// TargetColumns splits a notification target into nullable columns.
func TargetColumns(t *domain.NotificationTarget) (sql.NullString, sql.NullString) {
	if t == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: t.ChannelID, Valid: true},
		sql.NullString{String: string(t.Integration), Valid: true}
}

func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func NullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func Int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// DueThreshold is the newest last_checked value that still makes a watch due at now.
func DueThreshold(interval time.Duration, now time.Time) int64 {
	return now.Unix() - int64(interval/time.Second)
}
