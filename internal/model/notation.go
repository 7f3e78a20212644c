package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CastlingRights records which king and rook pairs are still eligible to castle.
// It is always derived from the board and the move history.
type CastlingRights struct {
	WhiteKingSide  bool
	WhiteQueenSide bool
	BlackKingSide  bool
	BlackQueenSide bool
}

func (r CastlingRights) Has(c Color, side CastleSide) bool {
	switch {
	case c == White && side == KingSide:
		return r.WhiteKingSide
	case c == White && side == QueenSide:
		return r.WhiteQueenSide
	case c == Black && side == KingSide:
		return r.BlackKingSide
	case c == Black && side == QueenSide:
		return r.BlackQueenSide
	}
	return false
}

func (r CastlingRights) String() string {
	var sb strings.Builder
	if r.WhiteKingSide {
		sb.WriteByte('K')
	}
	if r.WhiteQueenSide {
		sb.WriteByte('Q')
	}
	if r.BlackKingSide {
		sb.WriteByte('k')
	}
	if r.BlackQueenSide {
		sb.WriteByte('q')
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

var (
	squareA1 = Square{Rank: 0, File: 0}
	squareH1 = Square{Rank: 0, File: 7}
	squareA8 = Square{Rank: 7, File: 0}
	squareH8 = Square{Rank: 7, File: 7}
)

func (r *CastlingRights) revokeCorner(sq Square) {
	switch sq {
	case squareA1:
		r.WhiteQueenSide = false
	case squareH1:
		r.WhiteKingSide = false
	case squareA8:
		r.BlackQueenSide = false
	case squareH8:
		r.BlackKingSide = false
	}
}

func (r *CastlingRights) revokeColor(c Color) {
	if c == White {
		r.WhiteKingSide, r.WhiteQueenSide = false, false
	} else {
		r.BlackKingSide, r.BlackQueenSide = false, false
	}
}

// DeriveCastlingRights starts from the king and rook pairs standing on their home
// squares and revokes every right the history has spent: king moves, castles,
// rook moves off a corner and captures landing on a corner.
func DeriveCastlingRights(b Board, moves []Move) CastlingRights {
	whiteKing := b.At(Square{Rank: 0, File: 4}) == Piece{Type: King, Color: White}
	blackKing := b.At(Square{Rank: 7, File: 4}) == Piece{Type: King, Color: Black}
	whiteRook := Piece{Type: Rook, Color: White}
	blackRook := Piece{Type: Rook, Color: Black}

	r := CastlingRights{
		WhiteKingSide:  whiteKing && b.At(squareH1) == whiteRook,
		WhiteQueenSide: whiteKing && b.At(squareA1) == whiteRook,
		BlackKingSide:  blackKing && b.At(squareH8) == blackRook,
		BlackQueenSide: blackKing && b.At(squareA8) == blackRook,
	}
	for _, m := range moves {
		switch {
		case m.Castle != NoCastle || m.Piece.Type == King:
			r.revokeColor(m.Piece.Color)
		case m.Piece.Type == Rook:
			r.revokeCorner(m.From)
		}
		if m.Capture {
			r.revokeCorner(m.To)
		}
	}
	return r
}

// EnPassantTarget returns the square passed over by the last move when it was a
// two-square pawn advance.
func EnPassantTarget(moves []Move) (Square, bool) {
	if len(moves) == 0 {
		return Square{}, false
	}
	last := moves[len(moves)-1]
	if last.Piece.Type != Pawn || last.Castle != NoCastle || abs(last.To.Rank-last.From.Rank) != 2 {
		return Square{}, false
	}
	return Square{Rank: (last.From.Rank + last.To.Rank) / 2, File: last.From.File}, true
}

// HalfMoveClock counts moves since the last pawn move or capture.
func HalfMoveClock(moves []Move) int {
	clock := 0
	for _, m := range moves {
		if m.Piece.Type == Pawn || m.Capture {
			clock = 0
		} else {
			clock++
		}
	}
	return clock
}

func FullMoveNumber(historyLen int) int {
	return (historyLen + 2) / 2
}

func parseHistory(history []string) ([]Move, error) {
	moves := make([]Move, 0, len(history))
	for i, s := range history {
		m, err := ParseMove(s)
		if err != nil {
			return nil, errors.Wrapf(err, "history[%d]", i)
		}
		moves = append(moves, m)
	}
	return moves, nil
}

func boardField(b Board) string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			p := b[rank][file]
			if p.IsEmpty() {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteByte(p.letterByte())
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// DecodeBoard reads the board field of a position string.
func DecodeBoard(field string) (Board, error) {
	var b Board
	ranks := strings.Split(field, "/")
	if len(ranks) != 8 {
		return b, errors.Wrapf(ErrMalformedState, "board field %q has %d ranks", field, len(ranks))
	}
	for i, row := range ranks {
		rank, file := 7-i, 0
		for j := 0; j < len(row); j++ {
			c := row[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}
			p, err := pieceFromByte(c)
			if err != nil {
				return b, err
			}
			if file > 7 {
				return b, errors.Wrapf(ErrMalformedState, "rank %d of %q overflows", rank+1, field)
			}
			b[rank][file] = p
			file++
		}
		if file != 8 {
			return b, errors.Wrapf(ErrMalformedState, "rank %d of %q has %d files", rank+1, field, file)
		}
	}
	return b, nil
}

func encode(b Board, side Color, moves []Move) string {
	ep := "-"
	if sq, ok := EnPassantTarget(moves); ok {
		ep = sq.String()
	}
	return strings.Join([]string{
		boardField(b),
		side.String(),
		DeriveCastlingRights(b, moves).String(),
		ep,
		strconv.Itoa(HalfMoveClock(moves)),
		strconv.Itoa(FullMoveNumber(len(moves))),
	}, " ")
}

// EncodePosition renders the FEN-equivalent position string for a board, the side
// to move and the move history that led to it.
func EncodePosition(b Board, side Color, history []string) (string, error) {
	moves, err := parseHistory(history)
	if err != nil {
		return "", err
	}
	return encode(b, side, moves), nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
