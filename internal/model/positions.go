package model

import "sort"

// InitialPosition is a named starting setup a new game can be created from.
type InitialPosition struct {
	Key   string   `json:"key"`
	Name  string   `json:"name"`
	Board Board    `json:"-"`
	Moves []string `json:"moves"`
	Turn  Color    `json:"-"`
}

func (ip InitialPosition) State() GameState {
	return GameState{
		Board:      ip.Board,
		SideToMove: ip.Turn,
		History:    append([]string(nil), ip.Moves...),
	}
}

var standardRanks = [8][8]string{
	{"R", "N", "B", "Q", "K", "B", "N", "R"},
	{"P", "P", "P", "P", "P", "P", "P", "P"},
	{"", "", "", "", "", "", "", ""},
	{"", "", "", "", "", "", "", ""},
	{"", "", "", "", "", "", "", ""},
	{"", "", "", "", "", "", "", ""},
	{"p", "p", "p", "p", "p", "p", "p", "p"},
	{"r", "n", "b", "q", "k", "b", "n", "r"},
}

func without(ranks [8][8]string, squares ...string) [8][8]string {
	for _, s := range squares {
		sq := mustSquare(s)
		ranks[sq.Rank][sq.File] = ""
	}
	return ranks
}

func mustBoard(ranks [8][8]string) Board {
	b, err := BoardFromRanks(ranks)
	if err != nil {
		panic(err)
	}
	return b
}

var initialPositions = map[string]InitialPosition{
	"standard": {
		Key:   "standard",
		Name:  "Standard",
		Board: mustBoard(standardRanks),
	},
	"knightOdds": {
		Key:   "knightOdds",
		Name:  "Knight Odds",
		Board: mustBoard(without(standardRanks, "b1")),
	},
	"rookOdds": {
		Key:   "rookOdds",
		Name:  "Rook Odds",
		Board: mustBoard(without(standardRanks, "a1")),
	},
	"queenOdds": {
		Key:   "queenOdds",
		Name:  "Queen Odds",
		Board: mustBoard(without(standardRanks, "d1")),
	},
	"evansGambit": {
		Key:  "evansGambit",
		Name: "Evans Gambit",
		Board: mustBoard([8][8]string{
			{"R", "N", "B", "Q", "K", "", "", "R"},
			{"P", "", "P", "P", "", "P", "P", "P"},
			{"", "", "", "", "", "N", "", ""},
			{"", "P", "B", "", "P", "", "", ""},
			{"", "", "b", "", "p", "", "", ""},
			{"", "", "n", "", "", "", "", ""},
			{"p", "p", "p", "p", "", "p", "p", "p"},
			{"r", "", "b", "q", "k", "", "n", "r"},
		}),
		Moves: []string{"Pe2e4", "pe7e5", "Ng1f3", "nb8c6", "Bf1c4", "bf8c5", "Pb2b4"},
		Turn:  Black,
	},
}

// StartingPosition returns the standard setup with White to move.
func StartingPosition() GameState {
	return initialPositions["standard"].State()
}

func LookupInitialPosition(key string) (InitialPosition, bool) {
	ip, ok := initialPositions[key]
	return ip, ok
}

// InitialPositions lists the catalogue sorted by key.
func InitialPositions() []InitialPosition {
	list := make([]InitialPosition, 0, len(initialPositions))
	for _, ip := range initialPositions {
		list = append(list, ip)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}
