package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	ErrInvalidQuantity    = errors.New("shares must be a positive finite number")
	ErrInvalidOutcome     = errors.New("outcome must be YES or NO")
	ErrInvalidLiquidity   = errors.New("liquidity parameter must be positive")
	ErrInsufficientSupply = errors.New("not enough outcome supply to sell the requested amount")
	ErrMarketNotFound     = fmt.Errorf("market %w", ErrNotFound)
	ErrMarketClosed       = errors.New("market is not accepting trades")

	ErrSettlementFailed       = errors.New("settlement failed")
	ErrCorruptSnapshot        = errors.New("corrupt snapshot")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrStatsUnavailable       = errors.New("tournament stats unavailable")
)
