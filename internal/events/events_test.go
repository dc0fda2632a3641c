package events

import (
	"encoding/json"
	"testing"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/stretchr/testify/require"
)

func TestOutputReceived(t *testing.T) {
	o := store.Output{
		Link:  store.TransactionLink{Height: 42},
		Spend: store.SpendMeta{ID: store.OutputID{Low: 9}, Amount: 1500, Index: 1},
		Extra: store.PackExtra(store.ExtraRingCT, 8),
	}
	o.TxPrefixHash[0] = 0xab
	copy(o.PaymentID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	e, err := OutputReceived(3, o)
	require.NoError(t, err)
	require.Equal(t, KindOutputReceived, e.Kind)
	require.Equal(t, store.AccountID(3), e.Account)
	require.Equal(t, store.BlockID(42), e.Height)

	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Payload, &got))
	require.Equal(t, float64(1500), got["amount"])
	require.Equal(t, true, got["rct"])
	require.Equal(t, false, got["coinbase"])
	require.Equal(t, "0102030405060708", got["payment_id"])
	require.Equal(t, "ab00000000000000000000000000000000000000000000000000000000000000", got["tx_prefix_hash"])
}

func TestForOrphaned(t *testing.T) {
	orphans := store.Orphaned{
		Account: 5,
		Outputs: []store.Output{{Link: store.TransactionLink{Height: 11}}},
		Spends:  []store.Spend{{Link: store.TransactionLink{Height: 12}}, {Link: store.TransactionLink{Height: 13}}},
	}
	evs, err := ForOrphaned(orphans, 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.Equal(t, KindOutputOrphaned, evs[0].Kind)
	require.Equal(t, KindSpendOrphaned, evs[1].Kind)
	for _, e := range evs {
		require.Equal(t, store.BlockID(10), e.Height)
		var p struct {
			OrphanedAt uint64 `json:"orphaned_at_height"`
			Height     uint64 `json:"height"`
		}
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		require.Equal(t, uint64(10), p.OrphanedAt)
		require.Greater(t, p.Height, uint64(10))
	}
}

func TestForPass_Empty(t *testing.T) {
	evs, err := ForPass(store.Pass{Account: 1})
	require.NoError(t, err)
	require.Empty(t, evs)
}
