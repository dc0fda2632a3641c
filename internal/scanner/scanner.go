package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/account"
	"github.com/Abdullah1738/lws-scan/internal/daemon"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/metrics"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type State int32

const (
	Stopped State = iota
	Syncing
	Polling
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Syncing:
		return "syncing"
	case Polling:
		return "polling"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Config struct {
	Network keys.Network
	// Workers bounds how many account groups scan at once.
	Workers int
	// BatchSize is the number of new blocks requested per pass.
	BatchSize    uint64
	PollInterval time.Duration
	// AutoAccept approves pending creation requests at the start of every round.
	AutoAccept bool
	// Notify, when set, wakes the scanner from polling early.
	Notify <-chan struct{}
	// MaxReorgDepth bounds the walk back to a common ancestor.
	MaxReorgDepth uint64
}

type Scanner struct {
	st      store.Store
	node    daemon.Client
	log     *zap.Logger
	metrics *metrics.Scanner
	cfg     Config

	state atomic.Int32
	pool  pond.Pool

	// cache holds the last committed aggregate of every account. Workers
	// scan clones and store them back only after a successful commit.
	cache  *xsync.Map[store.AccountID, *account.Account]
	claims *xsync.Map[store.AccountID, struct{}]
}

func New(st store.Store, node daemon.Client, cfg Config, log *zap.Logger, m *metrics.Scanner) (*Scanner, error) {
	if st == nil {
		return nil, errors.New("scanner: store is nil")
	}
	if node == nil {
		return nil, errors.New("scanner: daemon client is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxReorgDepth == 0 {
		cfg.MaxReorgDepth = 4096
	}
	return &Scanner{
		st:      st,
		node:    node,
		log:     log,
		metrics: m,
		cfg:     cfg,
		pool:    pond.NewPool(cfg.Workers),
		cache:   xsync.NewMap[store.AccountID, *account.Account](),
		claims:  xsync.NewMap[store.AccountID, struct{}](),
	}, nil
}

func (s *Scanner) State() State { return State(s.state.Load()) }

func (s *Scanner) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.log.Debug("scanner state", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

// Run scans until ctx is done. Failed passes are logged and retried on the
// next round. Run returns once in-flight passes have finished.
func (s *Scanner) Run(ctx context.Context) error {
	s.setState(Syncing)
	defer func() {
		s.pool.StopAndWait()
		s.setState(Stopped)
	}()

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		caughtUp, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Warn("scan round failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if !caughtUp && err == nil {
			continue
		}

		s.setState(Polling)
		timer.Reset(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.cfg.Notify:
		}
		s.setState(Syncing)
	}
}

// RunOnce runs one pass over every active account and reports whether all of
// them reached the chain tip.
func (s *Scanner) RunOnce(ctx context.Context) (bool, error) {
	if s.cfg.AutoAccept {
		if err := s.acceptPending(ctx); err != nil {
			s.log.Warn("auto-accept failed", zap.Error(err))
		}
	}

	var recs []store.Account
	err := s.st.View(ctx, func(tx store.ReadTx) error {
		var err error
		recs, err = tx.ListAccounts(ctx, store.StatusActive)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("scanner: list accounts: %w", err)
	}
	s.forgetMissing(recs)
	s.metrics.Accounts(len(recs))
	if len(recs) == 0 {
		return true, nil
	}

	var caughtUp atomic.Bool
	caughtUp.Store(true)
	var failed atomic.Int32

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, part := range partition(recs, s.cfg.Workers) {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			claimed := s.claim(part)
			defer s.unclaim(claimed)
			if len(claimed) == 0 {
				caughtUp.Store(false)
				return
			}
			done, err := s.pass(groupCtx, claimed)
			if err != nil {
				failed.Add(1)
				if groupCtx.Err() == nil {
					s.log.Warn("scan pass failed", zap.Int("accounts", len(claimed)), zap.Error(err))
				}
			}
			if !done {
				caughtUp.Store(false)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return false, fmt.Errorf("scanner: wait: %w", err)
	}
	if n := failed.Load(); n > 0 {
		return false, fmt.Errorf("scanner: %d of %d passes failed", n, len(recs))
	}
	return caughtUp.Load(), nil
}

func (s *Scanner) acceptPending(ctx context.Context) error {
	var accepted []store.Account
	err := s.st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		accepted, err = tx.AcceptRequests(ctx, store.RequestCreate, nil)
		return err
	})
	if err != nil {
		return err
	}
	for _, a := range accepted {
		s.log.Info("account created", zap.Uint32("account_id", uint32(a.ID)), zap.Uint64("start_height", uint64(a.StartHeight)))
	}
	return nil
}

// partition deals accounts round-robin into at most n groups.
func partition(recs []store.Account, n int) [][]store.Account {
	n = min(n, len(recs))
	parts := make([][]store.Account, n)
	for i, r := range recs {
		parts[i%n] = append(parts[i%n], r)
	}
	return parts
}

// claim returns the accounts of part no other worker holds.
func (s *Scanner) claim(part []store.Account) []store.Account {
	out := make([]store.Account, 0, len(part))
	for _, r := range part {
		if _, loaded := s.claims.LoadOrStore(r.ID, struct{}{}); !loaded {
			out = append(out, r)
		}
	}
	return out
}

func (s *Scanner) unclaim(recs []store.Account) {
	for _, r := range recs {
		s.claims.Delete(r.ID)
	}
}

// forgetMissing drops cached aggregates of accounts no longer active.
func (s *Scanner) forgetMissing(recs []store.Account) {
	ids := make([]store.AccountID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	slices.Sort(ids)
	s.cache.Range(func(id store.AccountID, _ *account.Account) bool {
		if _, found := slices.BinarySearch(ids, id); !found {
			s.cache.Delete(id)
		}
		return true
	})
}

func (s *Scanner) drop(accts []*account.Account) {
	for _, a := range accts {
		s.cache.Delete(a.ID())
	}
}
