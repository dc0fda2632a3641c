package store

import (
	"context"

	"github.com/Abdullah1738/lws-scan/internal/keys"
)

// Store is a transactional account index. Readers see a point-in-time
// snapshot and never wait on writers; writers are serialized.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(WriteTx) error) error
}

type ReadTx interface {
	// AccountByAddress and AccountByID return ErrAccountNotFound for hidden
	// accounts.
	AccountByAddress(ctx context.Context, addr AccountAddress) (Account, error)
	AccountByID(ctx context.Context, id AccountID) (Account, error)

	// ListAccounts returns accounts with any of the given statuses, ordered
	// by id. With no statuses it returns active and inactive accounts.
	ListAccounts(ctx context.Context, statuses ...Status) ([]Account, error)

	// Outputs are ordered by height. Spends likewise.
	Outputs(ctx context.Context, id AccountID) ([]Output, error)
	Spends(ctx context.Context, id AccountID) ([]Spend, error)
	KeyImages(ctx context.Context, id AccountID, source OutputID) ([]KeyImage, error)

	Requests(ctx context.Context, kind RequestKind) ([]Request, error)

	BlockHash(ctx context.Context, height BlockID) (keys.Hash, bool, error)
	ChainHeight(ctx context.Context) (BlockID, error)

	ListEvents(ctx context.Context, id AccountID, afterID uint64, limit int) (events []Event, nextCursor uint64, err error)
	EventCursor(ctx context.Context, id AccountID) (uint64, error)
}

type WriteTx interface {
	ReadTx

	// CreationRequest queues an account for approval. A second request for
	// an address that is already pending or registered is ErrDuplicateRequest.
	CreationRequest(ctx context.Context, addr AccountAddress, key ViewKey, flags AccountFlags, start BlockID) error
	ImportRequest(ctx context.Context, addr AccountAddress, start BlockID) error
	AcceptRequests(ctx context.Context, kind RequestKind, addrs []AccountAddress) ([]Account, error)
	RejectRequests(ctx context.Context, kind RequestKind, addrs []AccountAddress) error

	AddAccount(ctx context.Context, addr AccountAddress, key ViewKey, flags AccountFlags, start BlockID) (Account, error)
	SetStatus(ctx context.Context, status Status, addrs []AccountAddress) error
	// Rescan resets scan_height to height and drops everything found above it.
	Rescan(ctx context.Context, height BlockID, addrs []AccountAddress) error
	Touch(ctx context.Context, id AccountID, at AccountTime) error

	// CommitPass persists outputs, spends and the new height of one account.
	// It fails with ErrStaleAccount when the stored height is not FromHeight.
	CommitPass(ctx context.Context, p Pass) error

	PutBlocks(ctx context.Context, blocks []BlockInfo) error
	SetChainHeight(ctx context.Context, height BlockID) error
	// Rollback forgets every block, output and spend above height and
	// lowers every account scanned past it.
	Rollback(ctx context.Context, height BlockID) ([]Orphaned, error)

	InsertEvent(ctx context.Context, e Event) error
	SetEventCursor(ctx context.Context, id AccountID, cursor uint64) error
}
