package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger("", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRecord(w, b string) Record {
	return Record{
		Pieces: make([]string, 64),
		Turn:   "w",
		Moves:  []string{},
		W:      w,
		B:      b,
	}
}

func receive(t *testing.T, ch <-chan Record) Record {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	return Record{}
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, newRecord("alice", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.W)
	assert.Len(t, got.Pieces, 64)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateAppliesAllFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("alice", ""))
	require.NoError(t, err)

	pieces := make([]string, 64)
	pieces[0] = "R"
	updated, err := s.Update(ctx, created.ID, Update{
		Pieces:     pieces,
		Turn:       StringPtr("b"),
		Moves:      []string{"Pe2e4"},
		IsGameOver: BoolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "R", updated.Pieces[0])
	assert.Equal(t, "b", updated.Turn)
	assert.Equal(t, []string{"Pe2e4"}, updated.Moves)
	assert.True(t, updated.IsGameOver)
	assert.Equal(t, "alice", updated.W, "unset fields are kept")

	_, err = s.Update(ctx, "missing", Update{Turn: StringPtr("w")})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateGuardAborts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("alice", "bob"))
	require.NoError(t, err)

	errTaken := errors.New("taken")
	_, err = s.Update(ctx, created.ID, Update{
		B: StringPtr("carol"),
		Guard: func(r Record) error {
			if r.B != "" {
				return errTaken
			}
			return nil
		},
	})
	assert.True(t, errors.Is(err, errTaken))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.B)
	assert.Equal(t, int64(1), got.Version)
}

func TestFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open, err := s.Create(ctx, newRecord("alice", ""))
	require.NoError(t, err)
	full, err := s.Create(ctx, newRecord("alice", "bob"))
	require.NoError(t, err)
	done, err := s.Create(ctx, newRecord("carol", ""))
	require.NoError(t, err)
	_, err = s.Update(ctx, done.ID, Update{IsGameOver: BoolPtr(true)})
	require.NoError(t, err)

	ids := func(rs []Record) []string {
		out := []string{}
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	mine, err := s.Find(ctx, Filter{Player: "alice"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{open.ID, full.ID}, ids(mine))

	joinable, err := s.Find(ctx, Filter{OpenSeat: true, Active: true})
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID}, ids(joinable))

	all, err := s.Find(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := s.Create(ctx, newRecord("alice", "bob"))
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receive(t, ch).Version)

	_, err = s.Update(ctx, created.ID, Update{Moves: []string{"Pe2e4"}, Turn: StringPtr("b")})
	require.NoError(t, err)
	snap := receive(t, ch)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, []string{"Pe2e4"}, snap.Moves)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestSubscribeKeepsLatestForSlowReader(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("alice", "bob"))
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Update(ctx, created.ID, Update{Turn: StringPtr("w")})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(6), receive(t, ch).Version)
}

func TestSubscribeRacingUpdateSeesLatest(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		created, err := s.Create(ctx, newRecord("alice", ""))
		require.NoError(t, err)

		var (
			wg     sync.WaitGroup
			ch     <-chan Record
			subErr error
			updErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, updErr = s.Update(ctx, created.ID, Update{B: StringPtr("joiner")})
		}()
		go func() {
			defer wg.Done()
			ch, subErr = s.Subscribe(ctx, created.ID)
		}()
		wg.Wait()
		require.NoError(t, updErr)
		require.NoError(t, subErr)

		snap := receive(t, ch)
		assert.Equal(t, int64(2), snap.Version, "iteration %d", i)
		assert.Equal(t, "joiner", snap.B, "iteration %d", i)
		cancel()
	}
}

func TestConcurrentUpdatesReachEverySubscriber(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	created, err := s.Create(ctx, newRecord("alice", "bob"))
	require.NoError(t, err)

	const writers, subscribers = 8, 4
	var wg sync.WaitGroup
	chans := make([]<-chan Record, subscribers)
	errs := make(chan error, writers+subscribers)
	for i := 0; i < subscribers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := s.Subscribe(ctx, created.ID)
			chans[i] = ch
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, created.ID, Update{Turn: StringPtr("b")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, ch := range chans {
		assert.Equal(t, int64(writers+1), receive(t, ch).Version)
	}
}

func TestSubscribeUnknownGame(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Subscribe(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s, err := OpenBadger("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("alice", ""))
	require.NoError(t, err)
	ch, err := s.Subscribe(ctx, created.ID)
	require.NoError(t, err)
	receive(t, ch)

	require.NoError(t, s.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir, nil)
	require.NoError(t, err)
	created, err := s.Create(context.Background(), newRecord("alice", ""))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.W)
}
