package model

import "sort"

// LegalMoves enumerates every legal move for the side to move. Moves are ordered
// by origin square, rank-major then file, and by destination in the same order
// for each origin. Pawn moves to the last rank carry a queen promotion.
func (p *Position) LegalMoves() []Move {
	legal := []Move{}
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			from := Square{Rank: rank, File: file}
			piece := p.board.At(from)
			if piece.IsEmpty() || piece.Color != p.side {
				continue
			}
			legal = append(legal, p.filterLegalMoves(p.pseudoMoves(from, piece))...)
		}
	}
	return legal
}

// LegalMovesFrom returns the legal moves of the piece standing on from.
func (p *Position) LegalMovesFrom(from Square) []Move {
	piece := p.board.At(from)
	if piece.IsEmpty() || piece.Color != p.side {
		return []Move{}
	}
	return p.filterLegalMoves(p.pseudoMoves(from, piece))
}

func (p *Position) pseudoMoves(from Square, piece Piece) []Move {
	var moves []Move
	switch piece.Type {
	case Pawn:
		moves = p.pseudoPawnMoves(from, piece)
	case Knight:
		moves = p.pseudoStepMoves(from, piece, knightDirs)
	case Bishop:
		moves = p.pseudoSlideMoves(from, piece, bishopDirs)
	case Rook:
		moves = p.pseudoSlideMoves(from, piece, rookDirs)
	case Queen:
		moves = p.pseudoSlideMoves(from, piece, queenDirs)
	case King:
		moves = append(p.pseudoStepMoves(from, piece, kingDirs), p.pseudoCastleMoves(from, piece)...)
	}
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].To.Index() < moves[j].To.Index()
	})
	return moves
}

// filterLegalMoves plays each move on a scratch board and drops the ones that
// leave the mover's king attacked. Pins and discovered checks fall out of this.
func (p *Position) filterLegalMoves(pseudo []Move) []Move {
	legal := []Move{}
	for _, m := range pseudo {
		scratch := p.board
		applyToBoard(&scratch, m)
		if !inCheck(&scratch, m.Piece.Color) {
			legal = append(legal, m)
		}
	}
	return legal
}

func (p *Position) pseudoPawnMoves(from Square, piece Piece) []Move {
	var moves []Move
	fwd := pawnForward(piece.Color)
	startRank, lastRank := 1, 7
	if piece.Color == Black {
		startRank, lastRank = 6, 0
	}
	add := func(m Move) {
		if m.To.Rank == lastRank {
			m.Promotion = Queen
		}
		moves = append(moves, m)
	}

	one := from.offset(fwd, 0)
	if one.Valid() && p.board.At(one).IsEmpty() {
		add(Move{Piece: piece, From: from, To: one})
		two := one.offset(fwd, 0)
		if from.Rank == startRank && two.Valid() && p.board.At(two).IsEmpty() {
			add(Move{Piece: piece, From: from, To: two})
		}
	}

	for _, dFile := range []int{-1, 1} {
		target := from.offset(fwd, dFile)
		if !target.Valid() {
			continue
		}
		occupant := p.board.At(target)
		switch {
		case !occupant.IsEmpty() && occupant.Color != piece.Color:
			add(Move{Piece: piece, From: from, To: target, Capture: true})
		case occupant.IsEmpty() && p.enPassantCapturable(target, piece.Color):
			add(Move{Piece: piece, From: from, To: target, Capture: true, EnPassant: true})
		}
	}
	return moves
}

// enPassantCapturable reports whether target is the square just passed over by
// an opposing pawn's double advance.
func (p *Position) enPassantCapturable(target Square, mover Color) bool {
	if !p.hasEP || target != p.epTarget {
		return false
	}
	victim := p.board.At(target.offset(-pawnForward(mover), 0))
	return victim.Type == Pawn && victim.Color != mover
}

func (p *Position) pseudoStepMoves(from Square, piece Piece, dirs []direction) []Move {
	var moves []Move
	for _, d := range dirs {
		target := from.offset(d.dRank, d.dFile)
		if !target.Valid() {
			continue
		}
		occupant := p.board.At(target)
		if occupant.IsEmpty() {
			moves = append(moves, Move{Piece: piece, From: from, To: target})
		} else if occupant.Color != piece.Color {
			moves = append(moves, Move{Piece: piece, From: from, To: target, Capture: true})
		}
	}
	return moves
}

func (p *Position) pseudoSlideMoves(from Square, piece Piece, dirs []direction) []Move {
	var moves []Move
	for _, d := range dirs {
		target := from.offset(d.dRank, d.dFile)
		for target.Valid() {
			occupant := p.board.At(target)
			if occupant.IsEmpty() {
				moves = append(moves, Move{Piece: piece, From: from, To: target})
			} else {
				if occupant.Color != piece.Color {
					moves = append(moves, Move{Piece: piece, From: from, To: target, Capture: true})
				}
				break
			}
			target = target.offset(d.dRank, d.dFile)
		}
	}
	return moves
}

// castlePath lists, per side, the files that must be empty and the files the king
// crosses or lands on.
var castlePath = map[CastleSide]struct {
	rookFile, rookTo int
	empty, transit   []int
}{
	KingSide:  {rookFile: 7, rookTo: 5, empty: []int{5, 6}, transit: []int{5, 6}},
	QueenSide: {rookFile: 0, rookTo: 3, empty: []int{1, 2, 3}, transit: []int{3, 2}},
}

func (p *Position) pseudoCastleMoves(from Square, piece Piece) []Move {
	var moves []Move
	rank := homeRank(piece.Color)
	if from != (Square{Rank: rank, File: 4}) {
		return nil
	}
	opponent := piece.Color.Opponent()
	if isSquareAttacked(&p.board, from, opponent) {
		return nil
	}
	for _, side := range []CastleSide{KingSide, QueenSide} {
		if !p.castling.Has(piece.Color, side) {
			continue
		}
		path := castlePath[side]
		if p.board.At(Square{Rank: rank, File: path.rookFile}) != (Piece{Type: Rook, Color: piece.Color}) {
			continue
		}
		if !p.filesEmpty(rank, path.empty) || p.filesAttacked(rank, path.transit, opponent) {
			continue
		}
		moves = append(moves, castleMove(piece.Color, side))
	}
	return moves
}

func (p *Position) filesEmpty(rank int, files []int) bool {
	for _, f := range files {
		if !p.board[rank][f].IsEmpty() {
			return false
		}
	}
	return true
}

func (p *Position) filesAttacked(rank int, files []int, by Color) bool {
	for _, f := range files {
		if isSquareAttacked(&p.board, Square{Rank: rank, File: f}, by) {
			return true
		}
	}
	return false
}

// applyToBoard plays m on b in place: the mover leaves its origin, a castling
// rook is relocated, an en-passant victim is removed and a promotion replaces
// the pawn.
func applyToBoard(b *Board, m Move) {
	piece := b.At(m.From)
	b.Set(m.From, Piece{})
	if m.EnPassant {
		b.Set(Square{Rank: m.From.Rank, File: m.To.File}, Piece{})
	}
	if m.Castle != NoCastle {
		path := castlePath[m.Castle]
		rookFrom := Square{Rank: m.From.Rank, File: path.rookFile}
		rook := b.At(rookFrom)
		b.Set(rookFrom, Piece{})
		b.Set(Square{Rank: m.From.Rank, File: path.rookTo}, rook)
	}
	if m.Promotion != NoPieceType {
		piece.Type = m.Promotion
	}
	b.Set(m.To, piece)
}
