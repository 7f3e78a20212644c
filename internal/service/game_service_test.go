package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/benbeisheim/chesssync-backend/internal/batch"
	"github.com/benbeisheim/chesssync-backend/internal/model"
	"github.com/benbeisheim/chesssync-backend/internal/store"
	"github.com/benbeisheim/chesssync-backend/internal/ws"
)

type testEnv struct {
	store   *store.BadgerStore
	writes  *flakyUpdater
	service *GameService
	manager *GameManager
}

// flakyUpdater is the batcher's view of the store; it rejects writes while
// fail is set.
type flakyUpdater struct {
	store *store.BadgerStore
	mu    sync.Mutex
	fail  error
}

func (f *flakyUpdater) Update(ctx context.Context, id string, u store.Update) (store.Record, error) {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return store.Record{}, err
	}
	return f.store.Update(ctx, id, u)
}

func (f *flakyUpdater) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s, err := store.OpenBadger("", logger)
	require.NoError(t, err)
	writes := &flakyUpdater{store: s}
	b := batch.New(writes, logger)
	gm := NewGameManager(s, logger)
	t.Cleanup(func() {
		b.Wait()
		assert.NoError(t, gm.Close())
		assert.NoError(t, s.Close())
	})
	return &testEnv{
		store:   s,
		writes:  writes,
		service: NewGameService(s, b, gm, logger, time.Second),
		manager: gm,
	}
}

// seated creates a standard game with alice as white and bob as black.
func (e *testEnv) seated(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	r, err := e.service.CreateGame(ctx, "alice", CreateGameRequest{Color: "white", Name: "Alice"})
	require.NoError(t, err)
	color, err := e.service.JoinGame(ctx, r.ID, "bob", "Bob")
	require.NoError(t, err)
	require.Equal(t, model.Black, color)
	return r.ID
}

// fromBoard stores a game with the given board field, white to move.
func (e *testEnv) fromBoard(t *testing.T, field string) string {
	t.Helper()
	b, err := model.DecodeBoard(field)
	require.NoError(t, err)
	r, err := e.store.Create(context.Background(), store.Record{
		Pieces: b.Pieces(),
		Turn:   "w",
		Moves:  []string{},
		W:      "alice",
		B:      "bob",
	})
	require.NoError(t, err)
	return r.ID
}

func (e *testEnv) move(t *testing.T, gameID, playerID, from, to string) MoveResult {
	t.Helper()
	res, err := e.service.HandleMove(context.Background(), gameID, playerID, from, to)
	require.NoError(t, err, "%s-%s", from, to)
	return res
}

type fakeConn struct {
	mu     sync.Mutex
	views  []GameView
	closed bool
	notify chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan struct{}, 64)}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	msg, ok := v.(ws.Message)
	if !ok || msg.Type != ws.MessageTypeGameState {
		return nil
	}
	var view GameView
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		return err
	}
	c.mu.Lock()
	c.views = append(c.views, view)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// waitFor blocks until a pushed view satisfies match.
func (c *fakeConn) waitFor(t *testing.T, match func(GameView) bool) GameView {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		for _, v := range c.views {
			if match(v) {
				c.mu.Unlock()
				return v
			}
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatal("no matching game state pushed")
			return GameView{}
		}
	}
}

func TestCreateGame(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	r, err := e.service.CreateGame(ctx, "alice", CreateGameRequest{Color: "b", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "", r.W)
	assert.Equal(t, "alice", r.B)
	assert.Equal(t, "Alice", r.BName)
	assert.Equal(t, "w", r.Turn)
	assert.Equal(t, "standard", r.Position)
	assert.Equal(t, model.StartingPosition().Board.Pieces(), r.Pieces)

	r, err = e.service.CreateGame(ctx, "alice", CreateGameRequest{Position: "evansGambit", Turn: "w"})
	require.NoError(t, err)
	assert.Equal(t, "b", r.Turn, "the history decides who moves")
	assert.Len(t, r.Moves, 7)

	r, err = e.service.CreateGame(ctx, "alice", CreateGameRequest{Position: "queenOdds", Turn: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", r.Turn)

	_, err = e.service.CreateGame(ctx, "alice", CreateGameRequest{Position: "chess960"})
	assert.True(t, errors.Is(err, ErrUnknownPosition))
	_, err = e.service.CreateGame(ctx, "alice", CreateGameRequest{Color: "green"})
	assert.True(t, errors.Is(err, model.ErrMalformedState))
}

func TestJoinGame(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	color, err := e.service.JoinGame(ctx, id, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, model.White, color, "rejoining keeps the seat")

	_, err = e.service.JoinGame(ctx, id, "carol", "Carol")
	assert.True(t, errors.Is(err, ErrSeatTaken))

	_, err = e.service.JoinGame(ctx, "missing", "carol", "Carol")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	r, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bob", r.BName)
}

func TestListGames(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	full := e.seated(t)
	open, err := e.service.CreateGame(ctx, "carol", CreateGameRequest{})
	require.NoError(t, err)

	mine, err := e.service.MyGames(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, full, mine[0].ID)

	joinable, err := e.service.OpenGames(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, joinable, 1)
	assert.Equal(t, open.ID, joinable[0].ID)

	joinable, err = e.service.OpenGames(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, joinable, "own games are not offered")
}

func TestHandleMoveWritesOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	res := e.move(t, id, "alice", "e2", "e4")
	assert.Equal(t, "Pe2e4", res.Move)
	require.NotNil(t, res.Game)
	assert.Equal(t, "b", res.Game.Turn)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1", res.Game.FEN)

	r, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pe2e4"}, r.Moves)
	assert.Equal(t, "b", r.Turn)
	assert.Equal(t, "P", r.Pieces[model.Square{Rank: 3, File: 4}.Index()])
	assert.False(t, r.IsGameOver)
	// create, join, move
	assert.Equal(t, int64(3), r.Version)
}

func TestHandleMoveRejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	_, err := e.service.HandleMove(ctx, id, "bob", "e7", "e5")
	assert.True(t, errors.Is(err, ErrNotYourTurn))

	_, err = e.service.HandleMove(ctx, id, "carol", "e2", "e4")
	assert.True(t, errors.Is(err, ErrNotInGame))

	_, err = e.service.HandleMove(ctx, id, "alice", "e2", "e5")
	assert.True(t, errors.Is(err, ErrIllegalMove))

	_, err = e.service.HandleMove(ctx, id, "alice", "e2", "z9")
	assert.True(t, errors.Is(err, model.ErrInvalidSquare))

	_, err = e.service.HandleMove(ctx, "missing", "alice", "e2", "e4")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	e.move(t, id, "alice", "e2", "e4")
	_, err = e.service.HandleMove(ctx, id, "alice", "d2", "d4")
	assert.True(t, errors.Is(err, ErrNotYourTurn))
}

func TestCheckmateEndsGame(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	e.move(t, id, "alice", "f2", "f3")
	e.move(t, id, "bob", "e7", "e5")
	e.move(t, id, "alice", "g2", "g4")
	res := e.move(t, id, "bob", "d8", "h4")

	require.NotNil(t, res.Game)
	assert.True(t, res.Game.Outcome.IsCheckmate)
	assert.True(t, res.Game.IsGameOver)

	r, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.IsGameOver)

	_, err = e.service.HandleMove(ctx, id, "alice", "a2", "a3")
	assert.True(t, errors.Is(err, ErrGameOver))
}

func TestPromotion(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.fromBoard(t, "1r2k3/P7/8/8/8/8/8/4K3")

	res := e.move(t, id, "alice", "a7", "b8")
	assert.True(t, res.Pending)
	assert.Equal(t, "Pa7b8x", res.Move)

	r, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, r.Moves, "nothing is written before the piece is chosen")

	view, err := e.service.GetGame(ctx, id, "alice")
	require.NoError(t, err)
	require.NotNil(t, view.Pending)
	assert.Equal(t, "w", view.Turn)

	_, err = e.service.HandleMove(ctx, id, "alice", "e1", "e2")
	assert.True(t, errors.Is(err, ErrPromotionPending))
	_, err = e.service.Promote(ctx, id, "bob", "q")
	assert.True(t, errors.Is(err, ErrNotYourTurn))
	_, err = e.service.Promote(ctx, id, "alice", "k")
	assert.True(t, errors.Is(err, model.ErrInvalidPromotion))

	res, err = e.service.Promote(ctx, id, "alice", "N")
	require.NoError(t, err)
	assert.Equal(t, "Pa7b8xn", res.Move)

	r, err = e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pa7b8xn"}, r.Moves)
	assert.Equal(t, "N", r.Pieces[model.Square{Rank: 7, File: 1}.Index()])
	assert.Equal(t, "b", r.Turn)

	_, err = e.service.Promote(ctx, id, "bob", "q")
	assert.True(t, errors.Is(err, model.ErrNoPendingPromotion))
}

func TestCancelPromotion(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.fromBoard(t, "1r2k3/P7/8/8/8/8/8/4K3")

	e.move(t, id, "alice", "a7", "a8")
	require.NoError(t, e.service.CancelPromotion(ctx, id, "alice"))

	view, err := e.service.GetGame(ctx, id, "alice")
	require.NoError(t, err)
	assert.Nil(t, view.Pending)
	assert.Equal(t, "P", view.Pieces[model.Square{Rank: 6, File: 0}.Index()])

	e.move(t, id, "alice", "e1", "e2")
}

func TestRemoteSnapshotWins(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.fromBoard(t, "1r2k3/P7/8/8/8/8/8/4K3")

	e.move(t, id, "alice", "a7", "a8")

	// another writer plays a move for white behind our back
	s := model.GameState{}
	b, err := model.DecodeBoard("1r2k3/P7/8/8/8/8/4K3/8")
	require.NoError(t, err)
	s.Board = b
	_, err = e.store.Update(ctx, id, store.Update{
		Pieces: s.Board.Pieces(),
		Turn:   store.StringPtr("b"),
		Moves:  []string{"Ke1e2"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := e.service.GetGame(ctx, id, "alice")
		return err == nil && view.Pending == nil && len(view.Moves) == 1
	}, 2*time.Second, 10*time.Millisecond)

	view, err := e.service.GetGame(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, "b", view.Turn)
	assert.Equal(t, "b", view.Color)
	e.move(t, id, "bob", "e8", "d8")
}

func TestConnectionsReceiveSnapshots(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	white, black := newFakeConn(), newFakeConn()
	wc, err := e.service.RegisterConnection(ctx, id, "alice", white)
	require.NoError(t, err)
	_, err = e.service.RegisterConnection(ctx, id, "bob", black)
	require.NoError(t, err)

	initial := white.waitFor(t, func(v GameView) bool { return len(v.Moves) == 0 })
	assert.Equal(t, "w", initial.Color)

	e.move(t, id, "alice", "e2", "e4")
	v := black.waitFor(t, func(v GameView) bool { return len(v.Moves) == 1 })
	assert.Equal(t, "b", v.Color)
	assert.Equal(t, "b", v.Turn)
	white.waitFor(t, func(v GameView) bool { return len(v.Moves) == 1 })

	e.service.UnregisterConnection(id, wc)
	e.move(t, id, "bob", "e7", "e5")
	black.waitFor(t, func(v GameView) bool { return len(v.Moves) == 2 })

	white.mu.Lock()
	for _, v := range white.views {
		assert.Less(t, len(v.Moves), 2)
	}
	white.mu.Unlock()
}

func TestLegalDestinations(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	markers, err := e.service.LegalDestinations(ctx, id, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f3": ".", "h3": "."}, markers)

	_, err = e.service.LegalDestinations(ctx, id, "i9")
	assert.True(t, errors.Is(err, model.ErrInvalidSquare))
}

func TestPositions(t *testing.T) {
	e := newTestEnv(t)
	positions := e.service.Positions()
	require.Len(t, positions, len(model.InitialPositions()))
	for _, p := range positions {
		assert.Len(t, p.Pieces, 64, p.Key)
		assert.NotEmpty(t, p.FEN, p.Key)
	}
}

// live reports whether the manager still mirrors the game.
func (e *testEnv) live(id string) bool {
	e.manager.mu.Lock()
	defer e.manager.mu.Unlock()
	_, ok := e.manager.games[id]
	return ok
}

func TestRetryPending(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	e.writes.setFail(errors.New("unavailable"))
	_, err := e.service.HandleMove(ctx, id, "alice", "e2", "e4")
	require.Error(t, err)

	r, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, r.Moves)

	_, err = e.service.RetryPending(ctx, id, "carol")
	assert.True(t, errors.Is(err, ErrNotInGame))
	_, err = e.service.RetryPending(ctx, "missing", "alice")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	e.writes.setFail(nil)
	ok, err := e.service.RetryPending(ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		r, err := e.store.Get(ctx, id)
		return err == nil && len(r.Moves) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ok, err = e.service.RetryPending(ctx, id, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		view, err := e.service.GetGame(ctx, id, "bob")
		return err == nil && view.Turn == "b"
	}, 2*time.Second, 10*time.Millisecond)
	e.move(t, id, "bob", "e7", "e5")
}

func TestLiveGamesAreReleased(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	_, err := e.service.GetGame(ctx, id, "carol")
	require.NoError(t, err)
	assert.False(t, e.live(id), "a spectator read does not pin the game")

	e.move(t, id, "alice", "e2", "e4")
	assert.False(t, e.live(id))

	conn := newFakeConn()
	lc, err := e.service.RegisterConnection(ctx, id, "carol", conn)
	require.NoError(t, err)
	assert.True(t, e.live(id))

	_, err = e.service.GetGame(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, e.live(id), "the connection still holds the game")

	e.service.UnregisterConnection(id, lc)
	assert.False(t, e.live(id))
	e.service.UnregisterConnection(id, lc)

	e.move(t, id, "bob", "e7", "e5")
	conn.mu.Lock()
	for _, v := range conn.views {
		assert.Less(t, len(v.Moves), 2)
	}
	conn.mu.Unlock()
}

func TestPendingPromotionKeepsGameLive(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.fromBoard(t, "1r2k3/P7/8/8/8/8/8/4K3")

	e.move(t, id, "alice", "a7", "a8")
	assert.True(t, e.live(id))

	res, err := e.service.Promote(ctx, id, "alice", "q")
	require.NoError(t, err)
	assert.Equal(t, "Pa7a8q", res.Move)
	assert.False(t, e.live(id))
}

func TestConcurrentReadersAndMoves(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id := e.seated(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := e.service.GetGame(ctx, id, "carol")
				assert.NoError(t, err)
			}
		}()
	}

	for _, m := range [][3]string{
		{"alice", "e2", "e4"}, {"bob", "e7", "e5"},
		{"alice", "g1", "f3"}, {"bob", "b8", "c6"},
	} {
		e.move(t, id, m[0], m[1], m[2])
	}
	close(stop)
	wg.Wait()

	view, err := e.service.GetGame(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Pe2e4", "pe7e5", "Ng1f3", "nb8c6"}, view.Moves)
	assert.False(t, e.live(id))
}
