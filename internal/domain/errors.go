package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSigningFailed  = errors.New("signing failed")
	ErrReceiptTimeout = errors.New("receipt wait timed out")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrDuplicateJob   = errors.New("resolution already tracked")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrSourceDisabled = errors.New("evidence source disabled")
)
