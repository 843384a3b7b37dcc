package batch

import "context"

// PageFunc loads the page that follows cursor. An empty page ends the input.
type PageFunc[T any] func(ctx context.Context, cursor int64, limit int) ([]T, error)

// PagingReader reads items page by page using keyset pagination: cursorOf
// extracts the key of the last item, which becomes the next cursor.
type PagingReader[T any] struct {
	fetch    PageFunc[T]
	cursorOf func(T) int64
	limit    int

	page   []T
	pos    int
	cursor int64
	done   bool
}

func NewPagingReader[T any](limit int, fetch PageFunc[T], cursorOf func(T) int64) *PagingReader[T] {
	if limit < 1 {
		limit = 100
	}
	return &PagingReader[T]{fetch: fetch, cursorOf: cursorOf, limit: limit}
}

func (r *PagingReader[T]) Read(ctx context.Context) (T, bool, error) {
	var zero T
	for r.pos >= len(r.page) {
		if r.done {
			return zero, false, nil
		}
		page, err := r.fetch(ctx, r.cursor, r.limit)
		if err != nil {
			return zero, false, err
		}
		if len(page) < r.limit {
			r.done = true
		}
		if len(page) == 0 {
			return zero, false, nil
		}
		r.page, r.pos = page, 0
		r.cursor = r.cursorOf(page[len(page)-1])
	}
	item := r.page[r.pos]
	r.pos++
	return item, true, nil
}

// SliceReader reads a fixed slice.
type SliceReader[T any] struct {
	items []T
	pos   int
}

func NewSliceReader[T any](items []T) *SliceReader[T] {
	return &SliceReader[T]{items: items}
}

func (r *SliceReader[T]) Read(context.Context) (T, bool, error) {
	var zero T
	if r.pos >= len(r.items) {
		return zero, false, nil
	}
	item := r.items[r.pos]
	r.pos++
	return item, true, nil
}
