package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrPositionNotFound   = errors.New("position not found")
	ErrConsistency        = errors.New("ledger consistency violation")
	ErrMarketClosed       = errors.New("market not accepting orders")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrNoPrice            = errors.New("no price available")
	ErrFeedClosed         = errors.New("price feed closed")
	ErrLockHeld           = errors.New("lock already held")
)

// UserError reports whether err is correctable by the caller (a 400-class
// failure) as opposed to an internal or consistency error.
func UserError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrMarketClosed) ||
		errors.Is(err, ErrInvalidOrder)
}
