package model

type direction struct {
	dRank, dFile int
}

var (
	rookDirs   = []direction{{0, 1}, {0, -1}, {1, 0}, {-1, 0}}
	bishopDirs = []direction{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	queenDirs  = append(append([]direction{}, rookDirs...), bishopDirs...)
	knightDirs = []direction{{2, 1}, {2, -1}, {-2, 1}, {-2, -1}, {1, 2}, {1, -2}, {-1, 2}, {-1, -2}}
	kingDirs   = queenDirs
)

// pawnForward is the rank step of a pawn of the given color.
func pawnForward(c Color) int {
	if c == White {
		return 1
	}
	return -1
}

// isSquareAttacked reports whether any piece of color by attacks sq. Rays are
// cast outward from sq and stop at the first occupied square.
func isSquareAttacked(b *Board, sq Square, by Color) bool {
	if rayAttacked(b, sq, by, rookDirs, Rook) || rayAttacked(b, sq, by, bishopDirs, Bishop) {
		return true
	}
	for _, d := range knightDirs {
		if p := b.At(sq.offset(d.dRank, d.dFile)); p.Type == Knight && p.Color == by {
			return true
		}
	}
	for _, d := range kingDirs {
		if p := b.At(sq.offset(d.dRank, d.dFile)); p.Type == King && p.Color == by {
			return true
		}
	}
	// an attacking pawn stands one rank behind sq from its own point of view
	back := -pawnForward(by)
	for _, dFile := range []int{-1, 1} {
		if p := b.At(sq.offset(back, dFile)); p.Type == Pawn && p.Color == by {
			return true
		}
	}
	return false
}

func rayAttacked(b *Board, sq Square, by Color, dirs []direction, slider PieceType) bool {
	for _, d := range dirs {
		target := sq.offset(d.dRank, d.dFile)
		for target.Valid() {
			p := b.At(target)
			if !p.IsEmpty() {
				if p.Color == by && (p.Type == slider || p.Type == Queen) {
					return true
				}
				break
			}
			target = target.offset(d.dRank, d.dFile)
		}
	}
	return false
}

// kingSquare finds the king of color c. Boards without one are legal setups and
// simply have no king to attack.
func kingSquare(b *Board, c Color) (Square, bool) {
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			if p := b[rank][file]; p.Type == King && p.Color == c {
				return Square{Rank: rank, File: file}, true
			}
		}
	}
	return Square{}, false
}

func inCheck(b *Board, c Color) bool {
	sq, ok := kingSquare(b, c)
	return ok && isSquareAttacked(b, sq, c.Opponent())
}
