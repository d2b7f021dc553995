package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkError_IsRetryableEnvelope(t *testing.T) {
	err := NewNetworkError("fetch failed", errors.New("connection refused"), map[string]any{"url": "https://example.com"})

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CategoryExternal, rich.Category)
	assert.Equal(t, TextCodeNetwork, rich.TextCode)
	assert.True(t, IsRetryable(err))
}

func TestParseError_NotRetryable(t *testing.T) {
	err := NewParseError("bad markup", nil)

	assert.Equal(t, TextCodeParse, TextCode(err))
	assert.False(t, IsRetryable(err))
}

func TestDeliveryErrors(t *testing.T) {
	rejected := NewDeliveryRejected("https://hooks.example.com", http.StatusNotFound)
	assert.False(t, IsRetryable(rejected))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(rejected))

	throttled := NewDeliveryRetryable("https://hooks.example.com", http.StatusTooManyRequests, nil)
	var rich *goerrors.Error
	require.True(t, goerrors.As(throttled, &rich))
	assert.Equal(t, goerrors.CategoryRateLimit, rich.Category)
	assert.True(t, IsRetryable(throttled))

	network := NewDeliveryRetryable("https://hooks.example.com", 0, errors.New("timeout"))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(network))
}

func TestNotFound(t *testing.T) {
	err := NewNotFound("watch", int64(7))

	assert.True(t, IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Contains(t, err.Error(), "watch 7 not found")
}

func TestPlainErrorsHaveNoEnvelope(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, "", TextCode(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.False(t, IsRetryable(nil))
}

func TestPricesEqual(t *testing.T) {
	a, b := int64(100), int64(100)
	c := int64(200)

	assert.True(t, PricesEqual(nil, nil))
	assert.True(t, PricesEqual(&a, &b))
	assert.False(t, PricesEqual(&a, &c))
	assert.False(t, PricesEqual(&a, nil))
	assert.False(t, PricesEqual(nil, &a))
}

func TestListingClone_DoesNotShareState(t *testing.T) {
	price := int64(100)
	l := Listing{ID: 1, Price: &price, PrevPrices: []int64{50}}

	c := l.Clone()
	*c.Price = 200
	c.PrevPrices[0] = 75

	assert.Equal(t, int64(100), *l.Price)
	assert.Equal(t, []int64{50}, l.PrevPrices)
}

func TestWatchIsDue(t *testing.T) {
	now := time.Unix(10_000, 0)

	assert.True(t, Watch{LastChecked: 0}.IsDue(5*time.Minute, now))
	assert.True(t, Watch{LastChecked: 10_000 - 300}.IsDue(5*time.Minute, now))
	assert.False(t, Watch{LastChecked: 10_000 - 299}.IsDue(5*time.Minute, now))
}
