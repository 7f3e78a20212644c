// Package batch coalesces the pieces, turn and moves of a move into one store
// write per game.
package batch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/model"
	"github.com/benbeisheim/chesssync-backend/internal/store"
)

// Callback receives the outcome of the flush its setter took part in.
type Callback func(error)

// Updater is the part of the store a batcher writes through.
type Updater interface {
	Update(ctx context.Context, id string, u store.Update) (store.Record, error)
}

type record struct {
	pieces    []string
	turn      string
	moves     []string
	hasPieces bool
	hasTurn   bool
	hasMoves  bool
	callbacks []Callback
	seq       uint64
}

func (r *record) complete() bool {
	return r.hasPieces && r.hasTurn && r.hasMoves
}

// Batcher holds one accumulating record per game. A record is flushed as a
// single Update once pieces, turn and moves have all been set; setters that
// arrive while a flush is in flight open a new record.
type Batcher struct {
	updater Updater
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*record
	// failed holds complete records whose write was rejected, for Retry.
	failed map[string]*record
	// tail is closed when the last flush started for a game has finished, so
	// flushes of one game reach the store in the order they were started.
	tail map[string]chan struct{}
	seq  uint64

	wg sync.WaitGroup
}

func New(updater Updater, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		updater: updater,
		logger:  logger.Named("batch"),
		pending: make(map[string]*record),
		failed:  make(map[string]*record),
		tail:    make(map[string]chan struct{}),
	}
}

func (b *Batcher) SetPieces(ctx context.Context, gameID string, pieces []string, cb Callback) {
	pieces = append([]string(nil), pieces...)
	b.set(ctx, gameID, cb, func(r *record) {
		r.pieces, r.hasPieces = pieces, true
	})
}

func (b *Batcher) SetTurn(ctx context.Context, gameID string, turn string, cb Callback) {
	b.set(ctx, gameID, cb, func(r *record) {
		r.turn, r.hasTurn = turn, true
	})
}

func (b *Batcher) SetMoves(ctx context.Context, gameID string, moves []string, cb Callback) {
	moves = append([]string{}, moves...)
	b.set(ctx, gameID, cb, func(r *record) {
		r.moves, r.hasMoves = moves, true
	})
}

func (b *Batcher) set(ctx context.Context, gameID string, cb Callback, merge func(*record)) {
	b.mu.Lock()
	r, ok := b.pending[gameID]
	if !ok {
		r = &record{}
		b.pending[gameID] = r
	}
	merge(r)
	if cb != nil {
		r.callbacks = append(r.callbacks, cb)
	}
	if !r.complete() {
		b.mu.Unlock()
		return
	}
	delete(b.pending, gameID)
	trigger := -1
	if cb != nil {
		trigger = len(r.callbacks) - 1
	}
	// a newer complete record supersedes one that failed to write
	if old, ok := b.failed[gameID]; ok {
		delete(b.failed, gameID)
		r.callbacks = append(old.callbacks, r.callbacks...)
		if trigger >= 0 {
			trigger += len(old.callbacks)
		}
	}
	b.startFlush(ctx, gameID, r, trigger)
	b.mu.Unlock()
}

// Retry re-attempts the write of a record whose flush failed. The returned
// channel is closed once that flush has finished; ok is false when there is
// nothing to retry.
func (b *Batcher) Retry(ctx context.Context, gameID string) (<-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.failed[gameID]
	if !ok {
		return nil, false
	}
	delete(b.failed, gameID)
	return b.startFlush(ctx, gameID, r, len(r.callbacks)-1), true
}

// Pending reports whether the game has an accumulating or failed record.
func (b *Batcher) Pending(gameID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, accumulating := b.pending[gameID]
	_, failed := b.failed[gameID]
	return accumulating || failed
}

// Wait blocks until every started flush has finished. It is meant for
// shutdown, once no more setters can be called.
func (b *Batcher) Wait() {
	b.wg.Wait()
}

// startFlush must be called with b.mu held. trigger indexes the callback of the
// setter that completed the record, or is negative. The returned channel is
// closed when the flush has finished.
func (b *Batcher) startFlush(ctx context.Context, gameID string, r *record, trigger int) <-chan struct{} {
	b.seq++
	r.seq = b.seq
	prev := b.tail[gameID]
	done := make(chan struct{})
	b.tail[gameID] = done

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if prev != nil {
			<-prev
		}
		b.flush(ctx, gameID, r, trigger)

		b.mu.Lock()
		if b.tail[gameID] == done {
			delete(b.tail, gameID)
		}
		b.mu.Unlock()
		close(done)
	}()
	return done
}

func (b *Batcher) flush(ctx context.Context, gameID string, r *record, trigger int) {
	logger := b.logger.With(zap.String("game_id", gameID), zap.Int("moves", len(r.moves)))

	state, err := model.NewGameState(r.pieces, r.turn, r.moves)
	if err == nil {
		if r.turn != state.SideToMove.String() {
			logger.Warn("stored turn disagrees with history",
				zap.String("turn", r.turn), zap.Stringer("derived", state.SideToMove))
		}
		var outcome model.Outcome
		outcome, err = model.Evaluate(state)
		if err == nil {
			b.write(ctx, logger, gameID, r, outcome.IsGameOver, trigger)
			return
		}
	}
	err = errors.Wrapf(err, "flush game %s", gameID)
	logger.Error("dropping malformed record", zap.Error(err))
	for _, cb := range r.callbacks {
		cb(err)
	}
}

func (b *Batcher) write(ctx context.Context, logger *zap.Logger, gameID string, r *record, gameOver bool, trigger int) {
	_, err := b.updater.Update(ctx, gameID, store.Update{
		Pieces:     r.pieces,
		Turn:       store.StringPtr(r.turn),
		Moves:      r.moves,
		IsGameOver: store.BoolPtr(gameOver),
	})
	if err == nil {
		logger.Debug("flushed", zap.Bool("game_over", gameOver))
		callbacks := r.callbacks
		b.mu.Lock()
		if old, ok := b.failed[gameID]; ok && old.seq < r.seq {
			delete(b.failed, gameID)
			callbacks = append(old.callbacks, callbacks...)
		}
		b.mu.Unlock()
		for _, cb := range callbacks {
			cb(nil)
		}
		return
	}

	err = errors.Wrapf(err, "write game %s", gameID)
	logger.Error("flush failed, record retained", zap.Error(err))

	retained := &record{
		pieces: r.pieces, turn: r.turn, moves: r.moves,
		hasPieces: true, hasTurn: true, hasMoves: true,
		seq: r.seq,
	}
	var triggerCb Callback
	for i, cb := range r.callbacks {
		if i == trigger {
			triggerCb = cb
			continue
		}
		retained.callbacks = append(retained.callbacks, cb)
	}
	b.mu.Lock()
	if old, ok := b.failed[gameID]; !ok || old.seq < retained.seq {
		b.failed[gameID] = retained
	}
	b.mu.Unlock()

	if triggerCb != nil {
		triggerCb(err)
	}
}
