// Package batch splits long id lists into request-sized chunks and fetches
// them one after another.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Limits bounds a single chunk. Zero values disable the bound.
type Limits struct {
	MaxItems int
	// MaxJoinedLength bounds the length of the chunk joined with Separator,
	// which is how ids end up in a query string.
	MaxJoinedLength int
	Separator       string
	// Delay is waited between consecutive chunk fetches
	Delay time.Duration
}

// ChunkError reports which chunk failed. It unwraps to the fetch error.
type ChunkError struct {
	Index int
	Items []string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d items): %v", e.Index, len(e.Items), e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Split partitions items according to limits. An item longer than
// MaxJoinedLength still gets a chunk of its own.
func Split(items []string, limits Limits) [][]string {
	if len(items) == 0 {
		return nil
	}

	var chunks [][]string
	var current []string
	joined := 0

	for _, item := range items {
		added := len(item)
		if len(current) > 0 {
			added += len(limits.Separator)
		}

		full := limits.MaxItems > 0 && len(current) >= limits.MaxItems
		long := limits.MaxJoinedLength > 0 && joined+added > limits.MaxJoinedLength
		if len(current) > 0 && (full || long) {
			chunks = append(chunks, current)
			current = nil
			joined = 0
			added = len(item)
		}

		current = append(current, item)
		joined += added
	}

	return append(chunks, current)
}

// Join renders a chunk the way it is sent upstream
func Join(chunk []string, limits Limits) string {
	return strings.Join(chunk, limits.Separator)
}

func fetchChunks[R any](ctx context.Context, items []string, limits Limits, fetch func(context.Context, []string) (R, error), collect func(R)) error {
	for i, chunk := range Split(items, limits) {
		if i > 0 && limits.Delay > 0 {
			timer := time.NewTimer(limits.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := fetch(ctx, chunk)
		if err != nil {
			return &ChunkError{Index: i, Items: chunk, Err: err}
		}
		collect(result)
	}
	return nil
}

// ChunkArrayFetcher fetches items chunk by chunk and concatenates the results
// in chunk order. The first failing chunk stops the fetch.
func ChunkArrayFetcher[T any](ctx context.Context, items []string, limits Limits, fetch func(context.Context, []string) ([]T, error)) ([]T, error) {
	result := make([]T, 0, len(items))
	err := fetchChunks(ctx, items, limits, fetch, func(part []T) {
		result = append(result, part...)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChunkMapFetcher fetches items chunk by chunk and merges the results. Later
// chunks win on duplicate keys.
func ChunkMapFetcher[T any](ctx context.Context, items []string, limits Limits, fetch func(context.Context, []string) (map[string]T, error)) (map[string]T, error) {
	result := make(map[string]T, len(items))
	err := fetchChunks(ctx, items, limits, fetch, func(part map[string]T) {
		for k, v := range part {
			result[k] = v
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
