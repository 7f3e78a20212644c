package model

import (
	"strings"

	"github.com/pkg/errors"
)

type CastleSide uint8

const (
	NoCastle CastleSide = iota
	KingSide
	QueenSide
)

const (
	whiteKingSide  = "O-O"
	whiteQueenSide = "O-O-O"
	blackKingSide  = "o-o"
	blackQueenSide = "o-o-o"
)

// Move is the parsed form of a canonical move string
// <Piece><from><to>[x][promotion], or of a castling token.
type Move struct {
	Piece     Piece      `json:"-"`
	From      Square     `json:"from"`
	To        Square     `json:"to"`
	Capture   bool       `json:"capture"`
	EnPassant bool       `json:"enPassant"`
	Castle    CastleSide `json:"castle"`
	Promotion PieceType  `json:"-"`
}

func (m Move) String() string {
	if m.Castle != NoCastle {
		return castleToken(m.Piece.Color, m.Castle)
	}
	s := m.Stem()
	if m.Promotion != NoPieceType {
		s += string(m.Promotion.letter())
	}
	return s
}

// Stem is the move string without its promotion letter.
func (m Move) Stem() string {
	if m.Castle != NoCastle {
		return castleToken(m.Piece.Color, m.Castle)
	}
	var sb strings.Builder
	sb.WriteByte(m.Piece.letterByte())
	sb.WriteString(m.From.String())
	sb.WriteString(m.To.String())
	if m.Capture {
		sb.WriteByte('x')
	}
	return sb.String()
}

func castleToken(c Color, side CastleSide) string {
	switch {
	case c == White && side == KingSide:
		return whiteKingSide
	case c == White:
		return whiteQueenSide
	case side == KingSide:
		return blackKingSide
	}
	return blackQueenSide
}

func castleMove(c Color, side CastleSide) Move {
	rank := homeRank(c)
	to := Square{Rank: rank, File: 6}
	if side == QueenSide {
		to.File = 2
	}
	return Move{
		Piece:  Piece{Type: King, Color: c},
		From:   Square{Rank: rank, File: 4},
		To:     to,
		Castle: side,
	}
}

func homeRank(c Color) int {
	if c == White {
		return 0
	}
	return 7
}

// ParseMove reads a canonical move string or castling token.
func ParseMove(s string) (Move, error) {
	switch s {
	case whiteKingSide:
		return castleMove(White, KingSide), nil
	case whiteQueenSide:
		return castleMove(White, QueenSide), nil
	case blackKingSide:
		return castleMove(Black, KingSide), nil
	case blackQueenSide:
		return castleMove(Black, QueenSide), nil
	}

	if len(s) < 5 || len(s) > 7 {
		return Move{}, errors.Wrapf(ErrMalformedState, "bad move %q", s)
	}
	piece, err := pieceFromByte(s[0])
	if err != nil {
		return Move{}, errors.Wrapf(err, "move %q", s)
	}
	from, err := ParseSquare(s[1:3])
	if err != nil {
		return Move{}, errors.Wrapf(ErrMalformedState, "move %q: %v", s, err)
	}
	to, err := ParseSquare(s[3:5])
	if err != nil {
		return Move{}, errors.Wrapf(ErrMalformedState, "move %q: %v", s, err)
	}
	m := Move{Piece: piece, From: from, To: to}
	rest := s[5:]
	if strings.HasPrefix(rest, "x") {
		m.Capture = true
		rest = rest[1:]
	}
	if rest != "" {
		if len(rest) != 1 || piece.Type != Pawn {
			return Move{}, errors.Wrapf(ErrMalformedState, "bad move suffix in %q", s)
		}
		promo, err := PromotionPiece(rest)
		if err != nil {
			return Move{}, errors.Wrapf(ErrMalformedState, "move %q: %v", s, err)
		}
		m.Promotion = promo
	}
	return m, nil
}

// MoverColor reports which side played a move string, from the case of its
// first letter.
func MoverColor(move string) (Color, error) {
	if move == "" {
		return White, errors.Wrap(ErrMalformedState, "empty move")
	}
	switch c := move[0]; {
	case c >= 'A' && c <= 'Z':
		return White, nil
	case c >= 'a' && c <= 'z':
		return Black, nil
	}
	return White, errors.Wrapf(ErrMalformedState, "bad move %q", move)
}

// CastleAsKingMove rewrites a castling token as the equivalent king move, for
// highlighting and filtering. Other moves are returned unchanged.
func CastleAsKingMove(move string) string {
	switch move {
	case whiteKingSide:
		return "Ke1g1"
	case whiteQueenSide:
		return "Ke1c1"
	case blackKingSide:
		return "ke8g8"
	case blackQueenSide:
		return "ke8c8"
	}
	return move
}
