package model

// Outcome flags for a position. Draws other than stalemate are not detected.
type Outcome struct {
	InCheck     bool `json:"inCheck"`
	IsCheckmate bool `json:"isCheckmate"`
	IsStalemate bool `json:"isStalemate"`
	IsGameOver  bool `json:"isGameOver"`
}

func (p *Position) Outcome() Outcome {
	o := Outcome{InCheck: p.InCheck()}
	noMoves := len(p.LegalMoves()) == 0
	o.IsCheckmate = o.InCheck && noMoves
	o.IsStalemate = !o.InCheck && noMoves
	o.IsGameOver = o.IsCheckmate || o.IsStalemate
	return o
}

// Evaluate reports check, checkmate and stalemate for the side to move.
func Evaluate(state GameState) (Outcome, error) {
	pos, err := state.Position()
	if err != nil {
		return Outcome{}, err
	}
	return pos.Outcome(), nil
}
