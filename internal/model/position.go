package model

import "github.com/pkg/errors"

// Position is a validated board, side to move and history, with the castling
// rights and en-passant target derived from that history.
type Position struct {
	board    Board
	side     Color
	history  []string
	moves    []Move
	castling CastlingRights
	epTarget Square
	hasEP    bool
}

// NewPosition checks the board for at most one king per color and parses the
// history. Any violation is reported as ErrMalformedState.
func NewPosition(b Board, side Color, history []string) (*Position, error) {
	for _, c := range []Color{White, Black} {
		if n := len(b.Kings(c)); n > 1 {
			return nil, errors.Wrapf(ErrMalformedState, "%d kings for %s", n, c)
		}
	}
	moves, err := parseHistory(history)
	if err != nil {
		return nil, err
	}
	p := &Position{
		board:    b,
		side:     side,
		history:  history,
		moves:    moves,
		castling: DeriveCastlingRights(b, moves),
	}
	p.epTarget, p.hasEP = EnPassantTarget(moves)
	return p, nil
}

func (p *Position) Board() Board {
	return p.board
}

func (p *Position) SideToMove() Color {
	return p.side
}

func (p *Position) CastlingRights() CastlingRights {
	return p.castling
}

func (p *Position) EnPassantTarget() (Square, bool) {
	return p.epTarget, p.hasEP
}

// FEN returns the canonical position string.
func (p *Position) FEN() string {
	return encode(p.board, p.side, p.moves)
}

// InCheck reports whether the side to move has its king attacked.
func (p *Position) InCheck() bool {
	return inCheck(&p.board, p.side)
}

func (p *Position) IsSquareAttacked(sq Square, by Color) bool {
	return isSquareAttacked(&p.board, sq, by)
}
