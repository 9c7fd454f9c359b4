package market

import (
	"errors"

	"kerdos/domain/blob"
	"kerdos/domain/eventq"
)

// Every operation either commits all of its changes or returns one of these
// (possibly wrapped) and leaves the state untouched.
var (
	ErrInvalidCapacity     = blob.ErrInvalidCapacity
	ErrQueueFull           = eventq.ErrFull
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderAlreadyActive  = errors.New("order already active")
	ErrOrderNotActive      = errors.New("order not active")
	ErrAccountMismatch     = errors.New("account mismatch")
	ErrUnauthorized        = errors.New("unauthorized")

	ErrMarketPaused    = errors.New("market paused")
	ErrInvalidTick     = errors.New("invalid tick")
	ErrQtyTooSmall     = errors.New("quantity below minimum")
	ErrInvalidQtyStep  = errors.New("quantity not a multiple of minimum")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidSide     = errors.New("invalid side")
	ErrOverflow        = errors.New("arithmetic overflow")
	ErrInvalidParams   = errors.New("invalid market params")
	ErrUnsettledEvents = errors.New("owner has unsettled events")
	ErrCorrupt         = errors.New("market state corrupt")
)
