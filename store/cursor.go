package store

import (
	"context"
	"iter"
)

// Cursor is a lazy, pull-based sequence of entities. Items are produced only
// when the consumer calls Next, so a slow consumer pauses the source.
type Cursor interface {
	// Next advances to the next entity. It returns false when the sequence is
	// exhausted or failed; check Err afterwards.
	Next(ctx context.Context) bool
	Entity() Entity
	Err() error
	Close(ctx context.Context) error
}

// MapFunc transforms one streamed entity.
type MapFunc func(ctx context.Context, e Entity) (Entity, error)

// Map wraps src so that every entity passes through fn in source order.
// An error from src or fn ends the cursor and is reported by Err.
func Map(src Cursor, fn MapFunc) Cursor {
	return &mapCursor{src: src, fn: fn}
}

type mapCursor struct {
	src     Cursor
	fn      MapFunc
	current Entity
	err     error
	done    bool
}

func (c *mapCursor) Next(ctx context.Context) bool {
	if c.done {
		return false
	}
	if !c.src.Next(ctx) {
		c.done = true
		c.err = c.src.Err()
		return false
	}
	out, err := c.fn(ctx, c.src.Entity())
	if err != nil {
		c.done = true
		c.err = err
		c.current = nil
		return false
	}
	c.current = out
	return true
}

func (c *mapCursor) Entity() Entity { return c.current }

func (c *mapCursor) Err() error { return c.err }

func (c *mapCursor) Close(ctx context.Context) error {
	c.done = true
	return c.src.Close(ctx)
}

// SliceCursor iterates an in-memory result set.
type SliceCursor struct {
	items   []Entity
	pos     int
	current Entity
	closed  bool
}

// NewSliceCursor returns a cursor over items.
func NewSliceCursor(items []Entity) *SliceCursor {
	return &SliceCursor{items: items}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.closed || c.pos >= len(c.items) || ctx.Err() != nil {
		return false
	}
	c.current = c.items[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Entity() Entity { return c.current }

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

// All returns an iterator over cur. The cursor is closed when iteration stops.
// A failing cursor yields its error once as the final pair.
func All(ctx context.Context, cur Cursor) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			if !yield(cur.Entity(), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		} else if err := ctx.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains cur into a slice and closes it.
func Collect(ctx context.Context, cur Cursor) ([]Entity, error) {
	var out []Entity
	for e, err := range All(ctx, cur) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
