package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Square is a board coordinate. Rank 0 is White's back rank and file 0 is the a-file.
type Square struct {
	Rank int `json:"rank"`
	File int `json:"file"`
}

func (s Square) Valid() bool {
	return s.Rank >= 0 && s.Rank < 8 && s.File >= 0 && s.File < 8
}

// Index is the position of the square in the flat rank-major piece list.
func (s Square) Index() int {
	return s.Rank*8 + s.File
}

func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("?%d%d", s.Rank, s.File)
	}
	return fmt.Sprintf("%c%d", 'a'+s.File, s.Rank+1)
}

func (s Square) offset(dRank, dFile int) Square {
	return Square{Rank: s.Rank + dRank, File: s.File + dFile}
}

// ParseSquare reads algebraic coordinates such as "e4".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return Square{}, errors.Wrapf(ErrInvalidSquare, "%q", s)
	}
	sq := Square{Rank: int(s[1]) - '1', File: int(s[0]) - 'a'}
	if !sq.Valid() {
		return Square{}, errors.Wrapf(ErrInvalidSquare, "%q", s)
	}
	return sq, nil
}

func mustSquare(s string) Square {
	sq, err := ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return sq
}

// Board is the 8x8 occupancy grid indexed [rank][file]. It is a value type, so
// assigning a Board copies it.
type Board [8][8]Piece

func (b *Board) At(s Square) Piece {
	if !s.Valid() {
		return Piece{}
	}
	return b[s.Rank][s.File]
}

func (b *Board) Set(s Square, p Piece) {
	b[s.Rank][s.File] = p
}

// Kings returns every square holding a king of the given color.
func (b *Board) Kings(c Color) []Square {
	var kings []Square
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			if p := b[rank][file]; p.Type == King && p.Color == c {
				kings = append(kings, Square{Rank: rank, File: file})
			}
		}
	}
	return kings
}

// Pieces flattens the board into the 64-entry record form, rank 0 to 7 and file
// 0 to 7 within each rank.
func (b Board) Pieces() []string {
	pieces := make([]string, 0, 64)
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			pieces = append(pieces, b[rank][file].Letter())
		}
	}
	return pieces
}

// BoardFromPieces is the inverse of Board.Pieces.
func BoardFromPieces(pieces []string) (Board, error) {
	var b Board
	if len(pieces) != 64 {
		return b, errors.Wrapf(ErrMalformedState, "board has %d squares", len(pieces))
	}
	for i, letter := range pieces {
		p, err := PieceFromLetter(letter)
		if err != nil {
			return b, errors.Wrapf(err, "square %s", Square{Rank: i / 8, File: i % 8})
		}
		b[i/8][i%8] = p
	}
	return b, nil
}

// BoardFromRanks builds a board from eight rows of letters, rank 0 first.
func BoardFromRanks(ranks [8][8]string) (Board, error) {
	flat := make([]string, 0, 64)
	for _, row := range ranks {
		flat = append(flat, row[:]...)
	}
	return BoardFromPieces(flat)
}
