// Package batch chunks bulk document reads so a burst of paths does not hit
// the store all at once.
package batch

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"docwatch/internal/store"
)

const (
	// DefaultChunkSize caps the number of reads in flight per chunk.
	DefaultChunkSize = 5
	// DefaultChunkDelay is the pause between chunks. Fixed, not adaptive.
	DefaultChunkDelay = 100 * time.Millisecond
)

// Reader executes bulk reads in small concurrent chunks with a fixed delay
// between chunks. A failing individual read yields nil for that path; it never
// aborts the chunk or the batch.
type Reader struct {
	src        store.Reader
	chunkSize  int
	chunkDelay time.Duration
	logger     zerolog.Logger
}

// NewReader creates a Reader. Zero chunkSize and chunkDelay select defaults.
func NewReader(src store.Reader, chunkSize int, chunkDelay time.Duration, logger zerolog.Logger) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkDelay <= 0 {
		chunkDelay = DefaultChunkDelay
	}
	return &Reader{
		src:        src,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		logger:     logger.With().Str("component", "batch-reader").Logger(),
	}
}

// BatchRead fetches every path and returns a mapping with one entry per input
// path; failed or missing documents map to nil. Cancelling the context stops
// the batch between chunks with partial results.
func (r *Reader) BatchRead(ctx context.Context, paths []string) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage, len(paths))
	for _, p := range paths {
		results[p] = nil
	}

	for start := 0; start < len(paths); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]
		data := make([]json.RawMessage, len(chunk))

		var wg conc.WaitGroup
		for i, path := range chunk {
			wg.Go(func() {
				snap, err := r.src.Read(ctx, path)
				if err != nil {
					r.logger.Warn().Err(err).Str("path", path).Msg("batch read failed for path")
					return
				}
				if snap != nil && snap.Exists {
					data[i] = snap.Data
				}
			})
		}
		wg.Wait()

		for i, path := range chunk {
			results[path] = data[i]
		}

		if end < len(paths) {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(r.chunkDelay):
			}
		}
	}
	return results, nil
}
