// service/game_manager.go
package service

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/model"
	"github.com/benbeisheim/chesssync-backend/internal/store"
	"github.com/benbeisheim/chesssync-backend/internal/ws"
)

// Conn is a client connection snapshots are pushed to. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// lockedConn serializes writes to a Conn shared between the read loop and
// snapshot broadcasts.
type lockedConn struct {
	mu   sync.Mutex
	conn Conn
}

func (c *lockedConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *lockedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// liveGame mirrors one stored game. The mirror is replaced by every snapshot the
// store pushes; a pending promotion lives only here.
type liveGame struct {
	id string

	// moveMu serializes moves made through this process.
	moveMu sync.Mutex

	mu     sync.RWMutex
	record store.Record
	state  model.GameState
	// stateErr is set when the stored record cannot be read as a game.
	stateErr error
	conns    map[*lockedConn]string

	// refs counts requests and connections using the game; guarded by
	// GameManager.mu.
	refs   int
	cancel context.CancelFunc
}

func (g *liveGame) pending() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Pending != nil
}

func (g *liveGame) snapshot() (store.Record, model.GameState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.record, g.state, g.stateErr
}

// GameManager keeps a live mirror of every game in use and fans store snapshots
// out to the game's connections. A game is dropped, with its subscription, once
// no request or connection holds it and no promotion is pending on it.
type GameManager struct {
	store  store.Store
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	games map[string]*liveGame
	mu    sync.Mutex
}

func NewGameManager(s store.Store, logger *zap.Logger) *GameManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GameManager{
		store:  s,
		logger: logger.Named("games"),
		ctx:    ctx,
		cancel: cancel,
		games:  make(map[string]*liveGame),
	}
}

// acquire returns the live mirror for gameID, subscribing to the store the
// first time the game is seen. Every acquire must be paired with a release.
func (gm *GameManager) acquire(ctx context.Context, gameID string) (*liveGame, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if g, ok := gm.games[gameID]; ok {
		g.refs++
		return g, nil
	}
	if gm.ctx.Err() != nil {
		return nil, store.ErrClosed
	}

	subCtx, cancel := context.WithCancel(gm.ctx)
	updates, err := gm.store.Subscribe(subCtx, gameID)
	if err != nil {
		cancel()
		return nil, err
	}
	var first store.Record
	select {
	case r, ok := <-updates:
		if !ok {
			cancel()
			return nil, store.ErrClosed
		}
		first = r
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	g := &liveGame{id: gameID, conns: make(map[*lockedConn]string), refs: 1, cancel: cancel}
	gm.adopt(g, first)
	gm.games[gameID] = g

	gm.wg.Add(1)
	go gm.follow(g, updates)
	return g, nil
}

// release gives back a reference taken by acquire.
func (gm *GameManager) release(g *liveGame) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	g.refs--
	if g.refs > 0 || gm.games[g.id] != g || g.pending() {
		return
	}
	delete(gm.games, g.id)
	g.cancel()
	gm.logger.Debug("game released", zap.String("game_id", g.id))
}

func (gm *GameManager) follow(g *liveGame, updates <-chan store.Record) {
	defer gm.wg.Done()
	for r := range updates {
		gm.adopt(g, r)
		gm.broadcast(g)
	}
	gm.logger.Debug("subscription ended", zap.String("game_id", g.id))
}

// adopt makes a store snapshot the authoritative state of the game. A pending
// promotion survives only while the stored history is the one it was made on.
func (gm *GameManager) adopt(g *liveGame, r store.Record) {
	logger := gm.logger.With(zap.String("game_id", r.ID), zap.Int64("version", r.Version))

	state, err := model.NewGameState(r.Pieces, r.Turn, r.Moves)
	if err != nil {
		logger.Error("stored game is malformed", zap.Error(err))
	}
	if err == nil && state.SideToMove.String() != r.Turn {
		logger.Warn("stored turn disagrees with history", zap.String("turn", r.Turn))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Version < g.record.Version {
		return
	}
	g.record, g.stateErr = r, err
	if err != nil {
		return
	}
	if g.state.Pending != nil && equalHistory(g.state.History, state.History) {
		return
	}
	if g.state.Pending != nil {
		logger.Info("discarding pending promotion, game moved on")
	}
	g.state = state
}

// setPending stores a state with a pending promotion if the game has not moved
// on since base was read.
func (gm *GameManager) setPending(g *liveGame, base, next model.GameState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Pending != nil || !equalHistory(g.state.History, base.History) {
		return false
	}
	g.state = next
	return true
}

// clearPending restores the state from before a pending promotion.
func (gm *GameManager) clearPending(g *liveGame, restored model.GameState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Pending != nil {
		g.state = restored
	}
}

func equalHistory(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RegisterConnection attaches conn to the game and sends it the current state.
// The returned Conn must be used for every other write to the connection.
func (gm *GameManager) RegisterConnection(ctx context.Context, gameID, playerID string, conn Conn) (Conn, error) {
	g, err := gm.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	lc := &lockedConn{conn: conn}

	g.mu.Lock()
	g.conns[lc] = playerID
	g.mu.Unlock()

	gm.logger.Debug("connection registered", zap.String("game_id", gameID), zap.String("player_id", playerID))
	if err := gm.send(g, lc, playerID); err != nil {
		gm.drop(g, lc)
		return nil, err
	}
	return lc, nil
}

func (gm *GameManager) UnregisterConnection(gameID string, conn Conn) {
	gm.mu.Lock()
	g, ok := gm.games[gameID]
	gm.mu.Unlock()
	if !ok {
		return
	}
	lc, ok := conn.(*lockedConn)
	if !ok {
		return
	}
	if gm.drop(g, lc) {
		gm.logger.Debug("connection unregistered", zap.String("game_id", gameID))
	}
}

// drop detaches c from the game and releases the reference it held. It
// reports false when c was already gone.
func (gm *GameManager) drop(g *liveGame, c *lockedConn) bool {
	g.mu.Lock()
	_, ok := g.conns[c]
	delete(g.conns, c)
	g.mu.Unlock()
	if ok {
		gm.release(g)
	}
	return ok
}

// broadcast pushes the current state to every connection of the game.
func (gm *GameManager) broadcast(g *liveGame) {
	g.mu.RLock()
	conns := make(map[*lockedConn]string, len(g.conns))
	for c, p := range g.conns {
		conns[c] = p
	}
	g.mu.RUnlock()

	for c, playerID := range conns {
		if err := gm.send(g, c, playerID); err != nil {
			gm.logger.Warn("dropping connection", zap.String("game_id", g.id), zap.Error(err))
			gm.drop(g, c)
			_ = c.Close()
		}
	}
}

func (gm *GameManager) send(g *liveGame, c Conn, playerID string) error {
	r, state, stateErr := g.snapshot()
	if stateErr != nil {
		return stateErr
	}
	view, err := newGameView(r, state, playerID)
	if err != nil {
		return err
	}
	msg, err := ws.NewMessage(ws.MessageTypeGameState, view)
	if err != nil {
		return err
	}
	return errors.Wrap(c.WriteJSON(msg), "write game state")
}

// Close ends every subscription and closes every connection.
func (gm *GameManager) Close() error {
	// acquire checks gm.ctx and adds to gm.wg under gm.mu
	gm.mu.Lock()
	gm.cancel()
	gm.mu.Unlock()
	gm.wg.Wait()

	gm.mu.Lock()
	defer gm.mu.Unlock()
	var errs error
	for id, g := range gm.games {
		g.mu.Lock()
		for c := range g.conns {
			if err := c.Close(); err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "close connection to game %s", id))
			}
		}
		g.conns = nil
		g.mu.Unlock()
	}
	gm.games = map[string]*liveGame{}
	return errs
}
