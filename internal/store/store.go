// Package store holds persisted game records and pushes a fresh snapshot to
// subscribers after every write.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("game not found")
	ErrClosed   = errors.New("store closed")
)

// Record is the persisted game document. Pieces holds 64 letters, rank 0 to 7
// and file 0 to 7; Turn and IsGameOver are caches of what Moves implies.
type Record struct {
	ID         string    `json:"id"`
	Pieces     []string  `json:"pieces"`
	Turn       string    `json:"turn"`
	Moves      []string  `json:"moves"`
	W          string    `json:"w"`
	B          string    `json:"b"`
	WName      string    `json:"wname"`
	BName      string    `json:"bname"`
	IsGameOver bool      `json:"isGameOver"`
	Position   string    `json:"position,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Seat returns the player id sitting on the given side ("w" or "b").
func (r Record) Seat(color string) string {
	if color == "b" {
		return r.B
	}
	return r.W
}

func (r Record) clone() Record {
	r.Pieces = append([]string(nil), r.Pieces...)
	r.Moves = append([]string(nil), r.Moves...)
	return r
}

// Update is a partial write. Nil fields are left unchanged. Guard, when set, runs
// against the current record inside the same transaction and aborts the write
// by returning an error.
type Update struct {
	Pieces     []string
	Turn       *string
	Moves      []string
	IsGameOver *bool
	W          *string
	B          *string
	WName      *string
	BName      *string
	Guard      func(Record) error
}

func (u Update) apply(r *Record) {
	if u.Pieces != nil {
		r.Pieces = append([]string(nil), u.Pieces...)
	}
	if u.Turn != nil {
		r.Turn = *u.Turn
	}
	if u.Moves != nil {
		r.Moves = append([]string(nil), u.Moves...)
	}
	if u.IsGameOver != nil {
		r.IsGameOver = *u.IsGameOver
	}
	for _, f := range []struct {
		src *string
		dst *string
	}{{u.W, &r.W}, {u.B, &r.B}, {u.WName, &r.WName}, {u.BName, &r.BName}} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
}

// Filter selects records in Find. Zero fields match everything.
type Filter struct {
	// Player matches records where the id sits on either side.
	Player string
	// OpenSeat matches records with at least one empty side.
	OpenSeat bool
	// Active drops finished games.
	Active bool
}

func (f Filter) Match(r Record) bool {
	if f.Player != "" && r.W != f.Player && r.B != f.Player {
		return false
	}
	if f.OpenSeat && r.W != "" && r.B != "" {
		return false
	}
	if f.Active && r.IsGameOver {
		return false
	}
	return true
}

// Store is the remote document store the game core talks to.
type Store interface {
	Create(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Find(ctx context.Context, f Filter) ([]Record, error)
	// Update applies every field of u atomically and returns the new record.
	Update(ctx context.Context, id string, u Update) (Record, error)
	// Subscribe delivers the current record and then a new snapshot after every
	// write, until ctx is done. A slow reader only misses intermediate snapshots.
	Subscribe(ctx context.Context, id string) (<-chan Record, error)
	Close() error
}

func StringPtr(s string) *string {
	return &s
}

func BoolPtr(b bool) *bool {
	return &b
}
