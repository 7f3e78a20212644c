package model

import "github.com/pkg/errors"

var (
	// ErrMalformedState reports a broken invariant in a board or history, such as
	// two kings of one color or a move that cannot be parsed.
	ErrMalformedState     = errors.New("malformed game state")
	ErrInvalidSquare      = errors.New("invalid square")
	ErrInvalidPromotion   = errors.New("invalid promotion piece")
	ErrNoPendingPromotion = errors.New("no pending promotion")
)
