// Async façade (§5 "Suspension points"): a thin adapter that runs the
// same synchronous operations on a goroutine and resolves a future. It
// adds no ordering guarantees beyond the synchronous API — a canceled
// future does not roll back a write that already acquired its lock.
package codex

import "context"

// Future resolves to a value of type T once the underlying operation
// completes.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func async[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		f.val, f.err = fn()
		close(f.done)
	}()
	return f
}

// Wait blocks until the future resolves or ctx is canceled. Cancellation
// does not stop the underlying operation if it has already started
// (§5 "Cancellation & timeouts").
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// SaveAsync runs Table.Save on a worker goroutine.
func SaveAsync[E any](t *Table[E], e E) *Future[SaveResult] {
	return async(func() (SaveResult, error) { return t.Save(e) })
}

// LoadByKeyAsync runs Table.LoadByKey on a worker goroutine.
func LoadByKeyAsync[E any](t *Table[E], key any) *Future[LoadResult[E]] {
	return async(func() (LoadResult[E], error) {
		e, ok, err := t.LoadByKey(key)
		return LoadResult[E]{Entity: e, Found: ok}, err
	})
}

// LoadResult is the resolved value of a Future returned by
// LoadByKeyAsync: the loaded entity plus whether the key was found.
type LoadResult[E any] struct {
	Entity E
	Found  bool
}

// DeleteByKeyAsync runs Table.DeleteByKey on a worker goroutine.
func DeleteByKeyAsync[E any](t *Table[E], key any) *Future[bool] {
	return async(func() (bool, error) { return t.DeleteByKey(key) })
}

// CompactAsync runs Table.Compact on a worker goroutine.
func CompactAsync[E any](t *Table[E]) *Future[struct{}] {
	return async(func() (struct{}, error) { return struct{}{}, t.Compact() })
}
