package funds

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCentsConversion(t *testing.T) {
	assert.Equal(t, int64(198000), ToCents(decimal.RequireFromString("1980")))
	assert.Equal(t, int64(1235), ToCents(decimal.RequireFromString("12.345")))
	assert.True(t, FromCents(47000).Equal(decimal.NewFromInt(470)))
}

func TestSplitSource(t *testing.T) {
	c, m := splitSource("cus_123:pm_456")
	assert.Equal(t, "cus_123", c)
	assert.Equal(t, "pm_456", m)

	c, m = splitSource("pm_456")
	assert.Empty(t, c)
	assert.Equal(t, "pm_456", m)
}

func TestStripe_NotConfigured(t *testing.T) {
	s := &Stripe{}
	_, err := s.Payout(context.Background(), "acct_1", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = s.Charge(context.Background(), "pm_1", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = s.CreateIntent(context.Background(), decimal.NewFromInt(1), nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
