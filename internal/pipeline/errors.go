package pipeline

import "fmt"

// ChunkError is the fatal error returned by Run. Chunk is 1-based; chunks
// before it are committed and stay committed.
type ChunkError struct {
	Stage Stage
	Chunk int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("pipeline: %s chunk %d: %v", e.Stage, e.Chunk, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
