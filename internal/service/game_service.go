package service

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/batch"
	"github.com/benbeisheim/chesssync-backend/internal/model"
	"github.com/benbeisheim/chesssync-backend/internal/store"
)

var (
	ErrIllegalMove      = errors.New("illegal move")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNotInGame        = errors.New("player is not in this game")
	ErrGameOver         = errors.New("game is over")
	ErrPromotionPending = errors.New("a promotion is pending")
	ErrSeatTaken        = errors.New("no open seat")
	ErrUnknownPosition  = errors.New("unknown initial position")
)

// CreateGameRequest describes a new game. Color is the creator's side and Turn
// the side to move when the position carries no history; empty fields take the
// position's defaults.
type CreateGameRequest struct {
	Color    string `json:"color"`
	Position string `json:"position"`
	Turn     string `json:"turn"`
	Name     string `json:"name"`
}

// GameView is what clients see of a game: the stored record, the position
// string and the outcome flags, seen from one player's seat.
type GameView struct {
	ID         string                  `json:"id"`
	Pieces     []string                `json:"pieces"`
	Turn       string                  `json:"turn"`
	Moves      []string                `json:"moves"`
	W          string                  `json:"w"`
	B          string                  `json:"b"`
	WName      string                  `json:"wname"`
	BName      string                  `json:"bname"`
	Position   string                  `json:"position,omitempty"`
	IsGameOver bool                    `json:"isGameOver"`
	Version    int64                   `json:"version"`
	FEN        string                  `json:"fen"`
	Outcome    model.Outcome           `json:"outcome"`
	Pending    *model.PendingPromotion `json:"pending,omitempty"`
	// Color is the viewer's side, empty for spectators.
	Color string `json:"color,omitempty"`
}

func newGameView(r store.Record, state model.GameState, playerID string) (GameView, error) {
	v := GameView{
		ID:         r.ID,
		Pieces:     state.Board.Pieces(),
		Turn:       state.SideToMove.String(),
		Moves:      append([]string{}, state.History...),
		W:          r.W,
		B:          r.B,
		WName:      r.WName,
		BName:      r.BName,
		Position:   r.Position,
		IsGameOver: r.IsGameOver,
		Version:    r.Version,
		Pending:    state.Pending,
	}
	if c, ok := seatOf(r, playerID); ok {
		v.Color = c.String()
	}
	if state.Pending != nil {
		return v, nil
	}
	fen, err := state.FEN()
	if err != nil {
		return GameView{}, err
	}
	outcome, err := model.Evaluate(state)
	if err != nil {
		return GameView{}, err
	}
	v.FEN, v.Outcome = fen, outcome
	return v, nil
}

func seatOf(r store.Record, playerID string) (model.Color, bool) {
	switch {
	case playerID == "":
		return model.White, false
	case r.W == playerID:
		return model.White, true
	case r.B == playerID:
		return model.Black, true
	}
	return model.White, false
}

// MoveResult reports an accepted move. When Pending is set the move waits for
// a promotion piece and nothing has been written yet.
type MoveResult struct {
	Move    string    `json:"move"`
	Pending bool      `json:"pending"`
	Game    *GameView `json:"game,omitempty"`
}

// PositionView is an entry of the initial positions catalogue.
type PositionView struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Pieces []string `json:"pieces"`
	Moves  []string `json:"moves"`
	Turn   string   `json:"turn"`
	FEN    string   `json:"fen"`
}

type GameService struct {
	store        store.Store
	batcher      *batch.Batcher
	gameManager  *GameManager
	logger       *zap.Logger
	writeTimeout time.Duration
}

func NewGameService(s store.Store, batcher *batch.Batcher, gameManager *GameManager, logger *zap.Logger, writeTimeout time.Duration) *GameService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &GameService{
		store:        s,
		batcher:      batcher,
		gameManager:  gameManager,
		logger:       logger.Named("service"),
		writeTimeout: writeTimeout,
	}
}

func (gs *GameService) Positions() []PositionView {
	var views []PositionView
	for _, ip := range model.InitialPositions() {
		s := ip.State()
		fen, err := s.FEN()
		if err != nil {
			gs.logger.Error("bad initial position", zap.String("position", ip.Key), zap.Error(err))
			continue
		}
		views = append(views, PositionView{
			Key:    ip.Key,
			Name:   ip.Name,
			Pieces: s.Board.Pieces(),
			Moves:  append([]string{}, s.History...),
			Turn:   s.SideToMove.String(),
			FEN:    fen,
		})
	}
	return views
}

// CreateGame stores a new game with the creator seated and the other side open.
func (gs *GameService) CreateGame(ctx context.Context, playerID string, req CreateGameRequest) (store.Record, error) {
	key := req.Position
	if key == "" {
		key = "standard"
	}
	ip, ok := model.LookupInitialPosition(key)
	if !ok {
		return store.Record{}, errors.Wrapf(ErrUnknownPosition, "%q", key)
	}

	color := model.White
	if req.Color != "" {
		c, err := model.ParseColor(strings.ToLower(req.Color))
		if err != nil {
			return store.Record{}, err
		}
		color = c
	}

	state := ip.State()
	if req.Turn != "" {
		turn, err := model.ParseColor(strings.ToLower(req.Turn))
		if err != nil {
			return store.Record{}, err
		}
		if state.SideToMove, err = model.SideToMoveFromHistory(state.History, turn); err != nil {
			return store.Record{}, err
		}
	}
	if _, err := state.Position(); err != nil {
		return store.Record{}, err
	}

	r := store.Record{
		Pieces:   state.Board.Pieces(),
		Turn:     state.SideToMove.String(),
		Moves:    append([]string{}, state.History...),
		Position: ip.Key,
	}
	if color == model.White {
		r.W, r.WName = playerID, req.Name
	} else {
		r.B, r.BName = playerID, req.Name
	}
	created, err := gs.store.Create(ctx, r)
	if err != nil {
		return store.Record{}, err
	}
	gs.logger.Info("game created",
		zap.String("game_id", created.ID),
		zap.String("player_id", playerID),
		zap.String("position", ip.Key),
		zap.Stringer("color", color))
	return created, nil
}

// JoinGame seats the player on the open side. A player already in the game gets
// their existing seat back.
func (gs *GameService) JoinGame(ctx context.Context, gameID, playerID, name string) (model.Color, error) {
	r, err := gs.store.Get(ctx, gameID)
	if err != nil {
		return model.White, err
	}
	if c, ok := seatOf(r, playerID); ok {
		return c, nil
	}

	var color model.Color
	u := store.Update{}
	switch {
	case r.W == "":
		color = model.White
		u.W, u.WName = store.StringPtr(playerID), store.StringPtr(name)
	case r.B == "":
		color = model.Black
		u.B, u.BName = store.StringPtr(playerID), store.StringPtr(name)
	default:
		return model.White, ErrSeatTaken
	}
	u.Guard = func(cur store.Record) error {
		if cur.Seat(color.String()) != "" {
			return ErrSeatTaken
		}
		return nil
	}
	if _, err := gs.store.Update(ctx, gameID, u); err != nil {
		return model.White, err
	}
	gs.logger.Info("player joined",
		zap.String("game_id", gameID), zap.String("player_id", playerID), zap.Stringer("color", color))
	return color, nil
}

// MyGames lists the games the player sits in, newest first.
func (gs *GameService) MyGames(ctx context.Context, playerID string) ([]store.Record, error) {
	return gs.store.Find(ctx, store.Filter{Player: playerID})
}

// OpenGames lists unfinished games with an open seat that the player is not
// already part of.
func (gs *GameService) OpenGames(ctx context.Context, playerID string) ([]store.Record, error) {
	records, err := gs.store.Find(ctx, store.Filter{OpenSeat: true, Active: true})
	if err != nil {
		return nil, err
	}
	open := records[:0]
	for _, r := range records {
		if _, seated := seatOf(r, playerID); !seated {
			open = append(open, r)
		}
	}
	return open, nil
}

// GameExists returns store.ErrNotFound for unknown games.
func (gs *GameService) GameExists(ctx context.Context, gameID string) error {
	_, err := gs.store.Get(ctx, gameID)
	return err
}

func (gs *GameService) GetGame(ctx context.Context, gameID, playerID string) (GameView, error) {
	g, err := gs.gameManager.acquire(ctx, gameID)
	if err != nil {
		return GameView{}, err
	}
	defer gs.gameManager.release(g)
	r, state, err := g.snapshot()
	if err != nil {
		return GameView{}, err
	}
	return newGameView(r, state, playerID)
}

// LegalDestinations returns the marker map for the piece on from.
func (gs *GameService) LegalDestinations(ctx context.Context, gameID, from string) (map[string]string, error) {
	sq, err := model.ParseSquare(from)
	if err != nil {
		return nil, err
	}
	g, err := gs.gameManager.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer gs.gameManager.release(g)
	_, state, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	return model.LegalDestinations(state, sq)
}

// HandleMove validates and plays from→to for the player. Completed moves are
// written through the batcher and the call returns once the store has
// acknowledged them. A pawn reaching the last rank waits for Promote.
func (gs *GameService) HandleMove(ctx context.Context, gameID, playerID, from, to string) (MoveResult, error) {
	fromSq, err := model.ParseSquare(from)
	if err != nil {
		return MoveResult{}, err
	}
	toSq, err := model.ParseSquare(to)
	if err != nil {
		return MoveResult{}, err
	}
	g, err := gs.gameManager.acquire(ctx, gameID)
	if err != nil {
		return MoveResult{}, err
	}
	defer gs.gameManager.release(g)
	g.moveMu.Lock()
	defer g.moveMu.Unlock()

	_, state, err := gs.turnOf(g, playerID)
	if err != nil {
		return MoveResult{}, err
	}
	if state.Pending != nil {
		return MoveResult{}, ErrPromotionPending
	}

	v, err := model.Validate(state, fromSq, toSq)
	if err != nil {
		return MoveResult{}, err
	}
	if !v.Accepted {
		return MoveResult{}, errors.Wrapf(ErrIllegalMove, "%s%s", from, to)
	}
	next, err := model.ApplyMove(state, fromSq, toSq, v.Move)
	if err != nil {
		return MoveResult{}, err
	}

	logger := gs.logger.With(zap.String("game_id", gameID), zap.String("player_id", playerID))
	if next.Pending != nil {
		if !gs.gameManager.setPending(g, state, next) {
			return MoveResult{}, ErrNotYourTurn
		}
		logger.Debug("promotion pending", zap.String("move", v.Move))
		gs.gameManager.broadcast(g)
		return MoveResult{Move: v.Move, Pending: true}, nil
	}

	if err := gs.commit(ctx, g, next); err != nil {
		return MoveResult{}, err
	}
	logger.Info("move played", zap.String("move", v.Move))
	return gs.result(g, v.Move, playerID)
}

// Promote completes the player's pending promotion with piece (n, b, r or q).
func (gs *GameService) Promote(ctx context.Context, gameID, playerID, piece string) (MoveResult, error) {
	promoteTo, err := model.PromotionPiece(piece)
	if err != nil {
		return MoveResult{}, err
	}
	g, err := gs.gameManager.acquire(ctx, gameID)
	if err != nil {
		return MoveResult{}, err
	}
	defer gs.gameManager.release(g)
	g.moveMu.Lock()
	defer g.moveMu.Unlock()

	_, state, err := gs.turnOf(g, playerID)
	if err != nil {
		return MoveResult{}, err
	}
	next, err := model.ResolvePromotion(state, promoteTo)
	if err != nil {
		return MoveResult{}, err
	}
	if err := gs.commit(ctx, g, next); err != nil {
		return MoveResult{}, err
	}
	move := next.History[len(next.History)-1]
	gs.logger.Info("promotion played",
		zap.String("game_id", gameID), zap.String("player_id", playerID), zap.String("move", move))
	return gs.result(g, move, playerID)
}

// CancelPromotion takes back the player's pending promotion.
func (gs *GameService) CancelPromotion(ctx context.Context, gameID, playerID string) error {
	g, err := gs.gameManager.acquire(ctx, gameID)
	if err != nil {
		return err
	}
	defer gs.gameManager.release(g)
	g.moveMu.Lock()
	defer g.moveMu.Unlock()

	_, state, err := gs.turnOf(g, playerID)
	if err != nil {
		return err
	}
	restored, err := model.CancelPromotion(state)
	if err != nil {
		return err
	}
	gs.gameManager.clearPending(g, restored)
	gs.gameManager.broadcast(g)
	return nil
}

// turnOf checks that the player sits on the side to move of a running game.
func (gs *GameService) turnOf(g *liveGame, playerID string) (store.Record, model.GameState, error) {
	r, state, err := g.snapshot()
	if err != nil {
		return r, state, err
	}
	color, ok := seatOf(r, playerID)
	if !ok {
		return r, state, ErrNotInGame
	}
	if r.IsGameOver {
		return r, state, ErrGameOver
	}
	if color != state.SideToMove {
		return r, state, ErrNotYourTurn
	}
	return r, state, nil
}

// commit hands the three fields of next to the batcher and waits for the
// flush they complete. The write itself is bounded by the write timeout, not
// by ctx.
func (gs *GameService) commit(ctx context.Context, g *liveGame, next model.GameState) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), gs.writeTimeout)

	acks := make(chan error, 3)
	ack := func(err error) { acks <- err }
	gs.batcher.SetPieces(writeCtx, g.id, next.Board.Pieces(), ack)
	gs.batcher.SetTurn(writeCtx, g.id, next.SideToMove.String(), ack)
	gs.batcher.SetMoves(writeCtx, g.id, next.History, ack)

	select {
	case err := <-acks:
		cancel()
		if err != nil {
			return err
		}
	case <-ctx.Done():
		// the flush keeps its own deadline
		go func() {
			<-acks
			cancel()
		}()
		return ctx.Err()
	}

	r, err := gs.store.Get(ctx, g.id)
	if err != nil {
		return err
	}
	gs.gameManager.adopt(g, r)
	return nil
}

func (gs *GameService) result(g *liveGame, move, playerID string) (MoveResult, error) {
	r, state, err := g.snapshot()
	if err != nil {
		return MoveResult{}, err
	}
	view, err := newGameView(r, state, playerID)
	if err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Move: move, Game: &view}, nil
}

// RegisterConnection attaches a client connection to a game it may watch.
func (gs *GameService) RegisterConnection(ctx context.Context, gameID, playerID string, conn Conn) (Conn, error) {
	return gs.gameManager.RegisterConnection(ctx, gameID, playerID, conn)
}

func (gs *GameService) UnregisterConnection(gameID string, conn Conn) {
	gs.gameManager.UnregisterConnection(gameID, conn)
}

// RetryPending re-attempts a move write that the store rejected. Only a seated
// player may retry; ok is false when the game has nothing to retry.
func (gs *GameService) RetryPending(ctx context.Context, gameID, playerID string) (bool, error) {
	r, err := gs.store.Get(ctx, gameID)
	if err != nil {
		return false, err
	}
	if _, seated := seatOf(r, playerID); !seated {
		return false, ErrNotInGame
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), gs.writeTimeout)
	done, ok := gs.batcher.Retry(writeCtx, gameID)
	if !ok {
		cancel()
		return false, nil
	}
	go func() {
		<-done
		cancel()
	}()
	gs.logger.Info("retrying write", zap.String("game_id", gameID), zap.String("player_id", playerID))
	return true, nil
}
