package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"estatevault-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Token ids are on-chain uint256 values rendered in decimal.
var tokenIDRe = regexp.MustCompile(`^[0-9]{1,78}$`)

func IsValidTokenID(id string) bool {
	return tokenIDRe.MatchString(id)
}

// UUID parses a required uuid field.
func UUID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid UUID format for %s", domain.ErrInvalidInput, field)
	}
	return id, nil
}

// OptionalUUID parses a uuid field that may be empty.
func OptionalUUID(field, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := UUID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// PositiveAmount rejects zero, negative and sub-cent-of-a-micro amounts.
func PositiveAmount(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s must be a positive number", domain.ErrInvalidInput, field)
	}
	if v.Exponent() < -domain.MoneyScale && !v.Equal(domain.RoundMoney(v)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", domain.ErrInvalidInput, field, domain.MoneyScale)
	}
	return nil
}

// Date accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func Date(field, raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD or RFC 3339)", domain.ErrInvalidInput, field)
}

// OptionalDate is Date for query parameters that may be absent.
func OptionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := Date(field, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Page reads limit/offset query values; bad values fall back to zero and
// the service applies its defaults.
func Page(limit, offset string) (int, int) {
	l, _ := strconv.Atoi(limit)
	o, _ := strconv.Atoi(offset)
	if o < 0 {
		o = 0
	}
	return l, o
}
