package model

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrPromotionPending is returned when a move is applied while a pawn is still
// waiting for its promotion piece.
var ErrPromotionPending = errors.New("promotion pending")

// PendingPromotion holds a pawn move that reached the last rank before the
// promotion piece was chosen. It is never persisted.
type PendingPromotion struct {
	From     Square `json:"from"`
	To       Square `json:"to"`
	Stem     string `json:"stem"`
	captured Piece
}

// GameState is the board, the side to move and the append-only move history.
type GameState struct {
	Board      Board             `json:"-"`
	SideToMove Color             `json:"-"`
	History    []string          `json:"moves"`
	Pending    *PendingPromotion `json:"pending,omitempty"`
}

// NewGameState rebuilds a state from its persisted fields. The side to move is
// derived from the history; turn only decides it while the history is empty.
func NewGameState(pieces []string, turn string, moves []string) (GameState, error) {
	b, err := BoardFromPieces(pieces)
	if err != nil {
		return GameState{}, err
	}
	stored, err := ParseColor(turn)
	if err != nil {
		return GameState{}, err
	}
	side, err := SideToMoveFromHistory(moves, stored)
	if err != nil {
		return GameState{}, err
	}
	return GameState{Board: b, SideToMove: side, History: cloneHistory(moves)}, nil
}

func (s GameState) Position() (*Position, error) {
	return NewPosition(s.Board, s.SideToMove, s.History)
}

func (s GameState) FEN() (string, error) {
	return EncodePosition(s.Board, s.SideToMove, s.History)
}

// SideToMoveFromHistory derives the side to move as the opponent of whoever
// played the last move. An empty history falls back to the given color.
func SideToMoveFromHistory(history []string, fallback Color) (Color, error) {
	if len(history) == 0 {
		return fallback, nil
	}
	last, err := MoverColor(history[len(history)-1])
	if err != nil {
		return fallback, err
	}
	return last.Opponent(), nil
}

// Validation is the verdict on an attempted origin to destination move.
type Validation struct {
	Accepted bool `json:"accepted"`
	// Move is the string to hand to ApplyMove. For promotions it is the stem
	// without the promotion letter.
	Move        string `json:"move"`
	Legal       Move   `json:"-"`
	IsEnPassant bool   `json:"isEnPassant"`
	IsPromotion bool   `json:"isPromotion"`
	IsCastle    bool   `json:"isCastle"`
}

// Validate builds the canonical move for from→to and accepts it only when it is
// among the legal moves of the position. An illegal attempt is not an error.
func Validate(state GameState, from, to Square) (Validation, error) {
	if !from.Valid() || !to.Valid() || from == to || state.Pending != nil {
		return Validation{}, nil
	}
	pos, err := state.Position()
	if err != nil {
		return Validation{}, err
	}
	piece := pos.board.At(from)
	if piece.IsEmpty() || piece.Color != pos.side {
		return Validation{}, nil
	}

	candidate := candidateMove(pos, from, to, piece).String()
	for _, m := range pos.LegalMovesFrom(from) {
		if m.String() != candidate {
			continue
		}
		v := Validation{
			Accepted:    true,
			Move:        m.String(),
			Legal:       m,
			IsEnPassant: m.EnPassant,
			IsPromotion: m.Promotion != NoPieceType,
			IsCastle:    m.Castle != NoCastle,
		}
		if v.IsPromotion {
			v.Move = m.Stem()
		}
		return v, nil
	}
	return Validation{}, nil
}

func candidateMove(pos *Position, from, to Square, piece Piece) Move {
	home := Square{Rank: homeRank(piece.Color), File: 4}
	if piece.Type == King && from == home && to.Rank == from.Rank && abs(to.File-from.File) == 2 {
		if to.File == 6 {
			return castleMove(piece.Color, KingSide)
		}
		return castleMove(piece.Color, QueenSide)
	}

	m := Move{Piece: piece, From: from, To: to}
	occupant := pos.board.At(to)
	if !occupant.IsEmpty() && occupant.Color != piece.Color {
		m.Capture = true
	}
	if piece.Type == Pawn {
		if from.File != to.File && occupant.IsEmpty() {
			m.Capture, m.EnPassant = true, true
		}
		if to.Rank == homeRank(piece.Color.Opponent()) {
			m.Promotion = Queen
		}
	}
	return m
}

// ApplyMove returns the state after playing move from→to. The input state is
// left untouched. A pawn move onto the last rank without a promotion letter
// produces a pending promotion instead of a history entry.
func ApplyMove(state GameState, from, to Square, move string) (GameState, error) {
	if state.Pending != nil {
		return state, ErrPromotionPending
	}
	m, err := ParseMove(move)
	if err != nil {
		return state, err
	}
	if m.From != from || m.To != to {
		return state, errors.Wrapf(ErrMalformedState, "move %q does not go %s to %s", move, from, to)
	}
	piece := state.Board.At(from)
	if piece.IsEmpty() {
		return state, errors.Wrapf(ErrMalformedState, "move %q from empty square", move)
	}
	if piece != m.Piece {
		return state, errors.Wrapf(ErrMalformedState, "move %q but %s stands on %s", move, piece, from)
	}
	captured := state.Board.At(to)
	if piece.Type == Pawn && from.File != to.File && captured.IsEmpty() {
		m.EnPassant = true
	}

	next := GameState{Board: state.Board, SideToMove: state.SideToMove}
	if piece.Type == Pawn && to.Rank == homeRank(piece.Color.Opponent()) && m.Promotion == NoPieceType {
		applyToBoard(&next.Board, m)
		next.History = cloneHistory(state.History)
		next.Pending = &PendingPromotion{From: from, To: to, Stem: move, captured: captured}
		return next, nil
	}

	applyToBoard(&next.Board, m)
	next.SideToMove = state.SideToMove.Opponent()
	next.History = append(cloneHistory(state.History), move)
	return next, nil
}

// ResolvePromotion completes a pending promotion with the chosen piece and
// appends the finished move to the history.
func ResolvePromotion(state GameState, promoteTo PieceType) (GameState, error) {
	if state.Pending == nil {
		return state, ErrNoPendingPromotion
	}
	switch promoteTo {
	case Knight, Bishop, Rook, Queen:
	default:
		return state, ErrInvalidPromotion
	}
	pending := state.Pending
	pawn := state.Board.At(pending.To)
	if pawn.Type != Pawn {
		return state, errors.Wrapf(ErrMalformedState, "no pawn on %s", pending.To)
	}

	next := GameState{Board: state.Board, SideToMove: state.SideToMove.Opponent()}
	next.Board.Set(pending.To, Piece{Type: promoteTo, Color: pawn.Color})
	next.History = append(cloneHistory(state.History), pending.Stem+string(promoteTo.letter()))
	return next, nil
}

// CancelPromotion takes back a pending promotion, restoring the board from
// before the pawn moved.
func CancelPromotion(state GameState) (GameState, error) {
	if state.Pending == nil {
		return state, ErrNoPendingPromotion
	}
	pending := state.Pending
	next := GameState{Board: state.Board, SideToMove: state.SideToMove, History: cloneHistory(state.History)}
	next.Board.Set(pending.From, next.Board.At(pending.To))
	next.Board.Set(pending.To, pending.captured)
	return next, nil
}

// LegalDestinations maps every square the piece on from may move to onto a
// marker: "x" for captures and "." otherwise. Castles show as king moves.
func LegalDestinations(state GameState, from Square) (map[string]string, error) {
	markers := map[string]string{}
	if state.Pending != nil || !from.Valid() {
		return markers, nil
	}
	pos, err := state.Position()
	if err != nil {
		return nil, err
	}
	piece := pos.board.At(from)
	if piece.IsEmpty() {
		return markers, nil
	}
	prefix := piece.Letter() + from.String()
	for _, m := range pos.LegalMoves() {
		move := CastleAsKingMove(m.String())
		if !strings.HasPrefix(move, prefix) {
			continue
		}
		marker := "."
		if strings.Contains(move, "x") {
			marker = "x"
		}
		markers[move[3:5]] = marker
	}
	return markers, nil
}

func cloneHistory(history []string) []string {
	return append(make([]string, 0, len(history)+1), history...)
}
