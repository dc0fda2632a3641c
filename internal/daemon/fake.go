package daemon

import (
	"context"
	"sync"
)

// Fake serves blocks from memory. It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	blocks  []BlockWithTransactions
	indices [][][]uint64
	err     error
	calls   int
}

func NewFake() *Fake { return &Fake{} }

// Append adds a block at the tip.
func (f *Fake) Append(b BlockWithTransactions, indices [][]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
	f.indices = append(f.indices, indices)
}

// Truncate drops every block at or above height.
func (f *Fake) Truncate(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if height < uint64(len(f.blocks)) {
		f.blocks = f.blocks[:height]
		f.indices = f.indices[:height]
	}
}

func (f *Fake) Height() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.blocks))
}

// Block returns the block at height.
func (f *Fake) Block(height uint64) BlockWithTransactions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[height]
}

// FailNext makes subsequent calls return err until cleared with nil.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) FetchBlocks(ctx context.Context, start, count uint64) (*BlocksResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	resp := &BlocksResponse{StartHeight: start, CurrentHeight: uint64(len(f.blocks))}
	if start >= uint64(len(f.blocks)) {
		return resp, nil
	}
	end := uint64(len(f.blocks))
	if count > 0 && start+count < end {
		end = start + count
	}
	resp.Blocks = append(resp.Blocks, f.blocks[start:end]...)
	resp.OutputIndices = append(resp.OutputIndices, f.indices[start:end]...)
	return resp, nil
}

func (f *Fake) Close() error { return nil }
