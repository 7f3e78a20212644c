package model

import "github.com/pkg/errors"

type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// String returns the turn letter stored in game records.
func (c Color) String() string {
	if c == White {
		return "w"
	}
	return "b"
}

func ParseColor(s string) (Color, error) {
	switch s {
	case "w", "white":
		return White, nil
	case "b", "black":
		return Black, nil
	}
	return White, errors.Wrapf(ErrMalformedState, "unknown color %q", s)
}

type PieceType uint8

const (
	NoPieceType PieceType = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func (p PieceType) letter() byte {
	switch p {
	case Pawn:
		return 'p'
	case Knight:
		return 'n'
	case Bishop:
		return 'b'
	case Rook:
		return 'r'
	case Queen:
		return 'q'
	case King:
		return 'k'
	}
	return 0
}

func pieceTypeFromLetter(b byte) PieceType {
	switch b | 0x20 {
	case 'p':
		return Pawn
	case 'n':
		return Knight
	case 'b':
		return Bishop
	case 'r':
		return Rook
	case 'q':
		return Queen
	case 'k':
		return King
	}
	return NoPieceType
}

// Piece is a colored chess piece. The zero value is an empty square.
type Piece struct {
	Type  PieceType
	Color Color
}

func (p Piece) IsEmpty() bool {
	return p.Type == NoPieceType
}

// Letter returns the single-letter form, uppercase for white, or "" for an
// empty square.
func (p Piece) Letter() string {
	if p.IsEmpty() {
		return ""
	}
	return string(p.letterByte())
}

func (p Piece) letterByte() byte {
	b := p.Type.letter()
	if p.Color == White {
		b -= 'a' - 'A'
	}
	return b
}

func (p Piece) String() string {
	return p.Letter()
}

// PieceFromLetter parses a board letter. The empty string yields an empty square.
func PieceFromLetter(s string) (Piece, error) {
	if s == "" {
		return Piece{}, nil
	}
	if len(s) != 1 {
		return Piece{}, errors.Wrapf(ErrMalformedState, "bad piece letter %q", s)
	}
	return pieceFromByte(s[0])
}

func pieceFromByte(b byte) (Piece, error) {
	t := pieceTypeFromLetter(b)
	if t == NoPieceType {
		return Piece{}, errors.Wrapf(ErrMalformedState, "bad piece letter %q", string(b))
	}
	c := White
	if b >= 'a' && b <= 'z' {
		c = Black
	}
	return Piece{Type: t, Color: c}, nil
}

// PromotionPiece parses the piece a pawn may promote to. Either case is accepted;
// the color comes from the mover.
func PromotionPiece(s string) (PieceType, error) {
	if len(s) != 1 {
		return NoPieceType, errors.Wrapf(ErrInvalidPromotion, "%q", s)
	}
	switch t := pieceTypeFromLetter(s[0]); t {
	case Knight, Bishop, Rook, Queen:
		return t, nil
	}
	return NoPieceType, errors.Wrapf(ErrInvalidPromotion, "%q", s)
}
