package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/account"
	"github.com/Abdullah1738/lws-scan/internal/events"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"go.uber.org/zap"
)

// pass fetches one batch starting at the lowest height of recs, applies it
// to every account and commits all of them in one transaction. It reports
// whether the accounts reached the node's tip.
func (s *Scanner) pass(ctx context.Context, recs []store.Account) (bool, error) {
	started := time.Now()

	work, err := s.load(ctx, recs)
	if err != nil {
		s.metrics.Failure("load")
		return false, err
	}

	start := work[0].ScanHeight()
	for _, a := range work[1:] {
		start = min(start, a.ScanHeight())
	}

	resp, err := s.node.FetchBlocks(ctx, uint64(start), s.cfg.BatchSize+1)
	if err != nil {
		s.drop(work)
		s.metrics.Failure("fetch")
		return false, fmt.Errorf("scanner: fetch from %d: %w", start, err)
	}
	s.metrics.ChainHeight(resp.CurrentHeight)
	if len(resp.Blocks) == 0 && resp.CurrentHeight > 0 && resp.CurrentHeight <= uint64(start) {
		// The node's chain ends below what was scanned; anchor on its tip so
		// blocks that left the best chain are found.
		start = store.BlockID(resp.CurrentHeight - 1)
		resp, err = s.node.FetchBlocks(ctx, uint64(start), s.cfg.BatchSize+1)
		if err != nil {
			s.drop(work)
			s.metrics.Failure("fetch")
			return false, fmt.Errorf("scanner: fetch from %d: %w", start, err)
		}
	}
	if len(resp.Blocks) == 0 {
		return true, nil
	}
	blocks, err := prepare(resp, s.log)
	if err != nil {
		s.drop(work)
		s.metrics.Failure("decode")
		return false, err
	}

	var fork forkError
	err = s.st.View(ctx, func(tx store.ReadTx) error { return diverged(ctx, tx, blocks) })
	if errors.As(err, &fork) {
		s.drop(work)
		return false, s.reorg(ctx, fork.height)
	}
	if err != nil {
		s.drop(work)
		s.metrics.Failure("store")
		return false, err
	}

	last := blocks[len(blocks)-1].height
	var nOutputs, nSpends int
	for _, a := range work {
		for i := range blocks {
			if blocks[i].height <= a.ScanHeight() {
				continue
			}
			s.scanBlock(a, &blocks[i])
		}
		nOutputs += len(a.Outputs())
		nSpends += len(a.Spends())
	}

	infos := make([]store.BlockInfo, len(blocks))
	for i, b := range blocks {
		infos[i] = store.BlockInfo{ID: b.height, Hash: b.id}
	}

	// The commit runs to completion once started.
	commitCtx := context.WithoutCancel(ctx)
	err = s.st.Update(commitCtx, func(tx store.WriteTx) error {
		for _, a := range work {
			if a.ScanHeight() >= last {
				continue
			}
			p := a.Pass(last)
			if err := tx.CommitPass(commitCtx, p); err != nil {
				return fmt.Errorf("account %d: %w", p.Account, err)
			}
			evs, err := events.ForPass(p)
			if err != nil {
				return err
			}
			for _, e := range evs {
				if err := tx.InsertEvent(commitCtx, e); err != nil {
					return err
				}
			}
		}
		// Another group may have recorded a different chain since the check above.
		if err := diverged(commitCtx, tx, blocks); err != nil {
			return err
		}
		if err := tx.PutBlocks(commitCtx, infos); err != nil {
			return err
		}
		if resp.CurrentHeight > 0 {
			return tx.SetChainHeight(commitCtx, store.BlockID(resp.CurrentHeight-1))
		}
		return nil
	})
	if errors.As(err, &fork) {
		s.drop(work)
		return false, s.reorg(ctx, fork.height)
	}
	if err != nil {
		s.drop(work)
		if errors.Is(err, store.ErrStaleAccount) {
			s.metrics.Failure("stale")
		} else {
			s.metrics.Failure("commit")
		}
		return false, fmt.Errorf("scanner: commit to %d: %w", last, err)
	}

	for _, a := range work {
		if a.ScanHeight() < last {
			a.Updated(last)
		}
		s.keep(a)
	}
	s.metrics.Pass(time.Since(started).Seconds(), len(blocks)-1, nOutputs, nSpends)
	if nOutputs+nSpends > 0 {
		s.log.Info("scan pass committed",
			zap.Uint64("from", uint64(start)),
			zap.Uint64("to", uint64(last)),
			zap.Int("accounts", len(work)),
			zap.Int("outputs", nOutputs),
			zap.Int("spends", nSpends),
		)
	}
	return uint64(last)+1 >= resp.CurrentHeight, nil
}

// load returns a private clone of each account's aggregate, rebuilding from
// storage any whose cached height differs from the stored one.
func (s *Scanner) load(ctx context.Context, recs []store.Account) ([]*account.Account, error) {
	work := make([]*account.Account, 0, len(recs))
	var stale []store.Account
	for _, r := range recs {
		if c, ok := s.cache.Load(r.ID); ok && c.ScanHeight() == r.ScanHeight {
			work = append(work, c.Clone())
			continue
		}
		stale = append(stale, r)
	}
	if len(stale) == 0 {
		return work, nil
	}

	err := s.st.View(ctx, func(tx store.ReadTx) error {
		for _, r := range stale {
			a, err := account.Load(ctx, tx, r, s.cfg.Network)
			if err != nil {
				return fmt.Errorf("scanner: load account %d: %w", r.ID, err)
			}
			s.keep(a)
			work = append(work, a.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return work, nil
}

// keep makes a the cached aggregate for its account, releasing the previous one.
func (s *Scanner) keep(a *account.Account) {
	if old, loaded := s.cache.LoadAndStore(a.ID(), a); loaded && old != a {
		old.Release()
	}
}

func (s *Scanner) agrees(ctx context.Context, height store.BlockID, id keys.Hash) (bool, error) {
	var stored keys.Hash
	var ok bool
	err := s.st.View(ctx, func(tx store.ReadTx) error {
		var err error
		stored, ok, err = tx.BlockHash(ctx, height)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("scanner: block hash %d: %w", height, err)
	}
	return !ok || stored == id, nil
}

// forkError reports the lowest fetched height whose stored digest differs
// from the node's block.
type forkError struct {
	height store.BlockID
}

func (e forkError) Error() string {
	return fmt.Sprintf("scanner: stored block %d is not on the node's chain", e.height)
}

// diverged compares every fetched block against the digest stored at its
// height. Heights without a stored digest agree.
func diverged(ctx context.Context, tx store.ReadTx, blocks []block) error {
	for i := range blocks {
		stored, ok, err := tx.BlockHash(ctx, blocks[i].height)
		if err != nil {
			return fmt.Errorf("scanner: block hash %d: %w", blocks[i].height, err)
		}
		if ok && stored != blocks[i].id {
			return forkError{height: blocks[i].height}
		}
	}
	return nil
}

// reorg finds the highest height at which the stored chain and the node
// agree below mismatch and rolls storage back to it.
func (s *Scanner) reorg(ctx context.Context, mismatch store.BlockID) error {
	fork, err := s.findFork(ctx, mismatch)
	if err != nil {
		s.metrics.Failure("reorg")
		return err
	}

	commitCtx := context.WithoutCancel(ctx)
	var orphaned []store.Orphaned
	err = s.st.Update(commitCtx, func(tx store.WriteTx) error {
		var err error
		orphaned, err = tx.Rollback(commitCtx, fork)
		if err != nil {
			return err
		}
		for _, o := range orphaned {
			evs, err := events.ForOrphaned(o, fork)
			if err != nil {
				return err
			}
			for _, e := range evs {
				if err := tx.InsertEvent(commitCtx, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.Failure("reorg")
		return fmt.Errorf("scanner: rollback to %d: %w", fork, err)
	}

	s.cache.Range(func(id store.AccountID, _ *account.Account) bool {
		s.cache.Delete(id)
		return true
	})
	s.metrics.Reorg()
	s.log.Warn("chain reorganization",
		zap.Uint64("mismatch_height", uint64(mismatch)),
		zap.Uint64("fork_height", uint64(fork)),
		zap.Int("accounts", len(orphaned)),
	)
	return nil
}

func (s *Scanner) findFork(ctx context.Context, mismatch store.BlockID) (store.BlockID, error) {
	hi := uint64(mismatch)
	window := min(uint64(64), s.cfg.BatchSize)
	for hi > 0 {
		if uint64(mismatch)-hi > s.cfg.MaxReorgDepth {
			return 0, fmt.Errorf("scanner: no common ancestor within %d blocks of %d", s.cfg.MaxReorgDepth, mismatch)
		}
		lo := hi - min(hi, window)
		resp, err := s.node.FetchBlocks(ctx, lo, hi-lo)
		if err != nil {
			return 0, fmt.Errorf("scanner: fetch from %d: %w", lo, err)
		}
		blocks, err := prepare(resp, s.log)
		if err != nil {
			return 0, err
		}

		for h := hi; h > lo; h-- {
			height := store.BlockID(h - 1)
			i := h - 1 - lo
			if i >= uint64(len(blocks)) {
				continue
			}
			ok, err := s.agrees(ctx, height, blocks[i].id)
			if err != nil {
				return 0, err
			}
			if ok {
				return height, nil
			}
		}
		hi = lo
		window = min(window*2, s.cfg.BatchSize)
	}
	return 0, fmt.Errorf("scanner: genesis block disagrees with the node")
}
