package api

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/wire"
	"go.uber.org/zap"
)

const (
	// spendableAge is the confirmations an output needs before it unlocks.
	spendableAge = 10
	// maxBlockNumber divides height from timestamp unlock times.
	maxBlockNumber   = 500_000_000
	lockedTimeLeeway = 120
)

func unlocked(unlockTime uint64, height, tip store.BlockID, now time.Time) bool {
	chain := uint64(tip) + 1
	if uint64(height)+spendableAge > chain {
		return false
	}
	if unlockTime < maxBlockNumber {
		return chain >= unlockTime
	}
	return uint64(now.Unix())+lockedTimeLeeway >= unlockTime
}

type loginResponse struct {
	NewAddress       bool `json:"new_address"`
	GeneratedLocally bool `json:"generated_locally"`
}

func (s *Server) login(ctx context.Context, body []byte) (any, error) {
	req, err := wire.FromJSON(body, loginSchema.Read, requestOptions)
	if err != nil {
		return nil, err
	}
	addr, err := s.resolve(req.credentials)
	if err != nil {
		return nil, err
	}

	var existing store.Account
	err = s.st.View(ctx, func(tx store.ReadTx) error {
		existing, err = authorize(ctx, tx, addr, req.ViewKey)
		return err
	})
	switch {
	case err == nil:
		if err := s.st.Update(ctx, func(tx store.WriteTx) error {
			return tx.Touch(ctx, existing.ID, store.Now())
		}); err != nil {
			s.log.Warn("login: touch failed", zap.Uint32("account_id", uint32(existing.ID)), zap.Error(err))
		}
		return loginResponse{
			NewAddress:       false,
			GeneratedLocally: existing.Flags&store.FlagGeneratedLocally != 0,
		}, nil
	case !errors.Is(err, store.ErrAccountNotFound) || !req.CreateAccount:
		return nil, err
	}

	var flags store.AccountFlags
	if req.GeneratedLocally {
		flags |= store.FlagGeneratedLocally
	}
	err = s.st.Update(ctx, func(tx store.WriteTx) error {
		start, err := tx.ChainHeight(ctx)
		if err != nil {
			return err
		}
		return tx.CreationRequest(ctx, addr, store.ViewKey(req.ViewKey), flags, start)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account creation requested", zap.String("address", req.Address))
	return loginResponse{NewAddress: true, GeneratedLocally: req.GeneratedLocally}, nil
}

type importResponse struct {
	ImportFee        uint64 `json:"import_fee,string"`
	Status           string `json:"status"`
	NewRequest       bool   `json:"new_request"`
	RequestFulfilled bool   `json:"request_fulfilled"`
}

func (s *Server) importRequest(ctx context.Context, body []byte) (any, error) {
	req, err := wire.FromJSON(body, credentialsSchema.Read, requestOptions)
	if err != nil {
		return nil, err
	}
	addr, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	var resp importResponse
	err = s.st.Update(ctx, func(tx store.WriteTx) error {
		a, err := authorize(ctx, tx, addr, req.ViewKey)
		if err != nil {
			return err
		}
		if a.StartHeight == 0 {
			resp = importResponse{Status: "Approved", RequestFulfilled: true}
			return nil
		}
		if err := tx.ImportRequest(ctx, addr, 0); err != nil {
			return err
		}
		resp = importResponse{Status: "Accepted, waiting for approval", NewRequest: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// snapshot is one consistent read of everything an account query reports.
type snapshot struct {
	account store.Account
	tip     store.BlockID
	outputs []store.Output
	spends  []store.Spend
	images  map[store.OutputID][]store.KeyImage
}

func (s *Server) read(ctx context.Context, c credentials, withImages bool) (*snapshot, error) {
	addr, err := s.resolve(c)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{}
	err = s.st.View(ctx, func(tx store.ReadTx) error {
		if snap.account, err = authorize(ctx, tx, addr, c.ViewKey); err != nil {
			return err
		}
		if snap.tip, err = tx.ChainHeight(ctx); err != nil {
			return err
		}
		if snap.outputs, err = tx.Outputs(ctx, snap.account.ID); err != nil {
			return err
		}
		if snap.spends, err = tx.Spends(ctx, snap.account.ID); err != nil {
			return err
		}
		if !withImages {
			return nil
		}
		snap.images = make(map[store.OutputID][]store.KeyImage, len(snap.outputs))
		for _, o := range snap.outputs {
			ki, err := tx.KeyImages(ctx, snap.account.ID, o.Spend.ID)
			if err != nil {
				return err
			}
			snap.images[o.Spend.ID] = ki
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (snap *snapshot) outputsByID() map[store.OutputID]store.Output {
	m := make(map[store.OutputID]store.Output, len(snap.outputs))
	for _, o := range snap.outputs {
		m[o.Spend.ID] = o
	}
	return m
}

type spentOutput struct {
	Amount   uint64         `json:"amount,string"`
	KeyImage keys.KeyImage  `json:"key_image"`
	TxPub    keys.PublicKey `json:"tx_pub_key"`
	OutIndex uint32         `json:"out_index"`
	Mixin    uint32         `json:"mixin"`
}

func spent(sp store.Spend, src store.Output) spentOutput {
	return spentOutput{
		Amount:   src.Spend.Amount,
		KeyImage: sp.Image,
		TxPub:    src.Spend.TxPublic,
		OutIndex: src.Spend.Index,
		Mixin:    sp.MixinCount,
	}
}

type heights struct {
	ScannedHeight      uint64 `json:"scanned_height"`
	ScannedBlockHeight uint64 `json:"scanned_block_height"`
	StartHeight        uint64 `json:"start_height"`
	TransactionHeight  uint64 `json:"transaction_height"`
	BlockchainHeight   uint64 `json:"blockchain_height"`
}

func (snap *snapshot) heights() heights {
	return heights{
		ScannedHeight:      uint64(snap.account.ScanHeight),
		ScannedBlockHeight: uint64(snap.account.ScanHeight),
		StartHeight:        uint64(snap.account.StartHeight),
		TransactionHeight:  uint64(snap.tip),
		BlockchainHeight:   uint64(snap.tip),
	}
}

type addressInfoResponse struct {
	LockedFunds   uint64 `json:"locked_funds,string"`
	TotalReceived uint64 `json:"total_received,string"`
	TotalSent     uint64 `json:"total_sent,string"`
	heights
	SpentOutputs []spentOutput `json:"spent_outputs"`
}

func (s *Server) getAddressInfo(ctx context.Context, body []byte) (any, error) {
	req, err := wire.FromJSON(body, credentialsSchema.Read, requestOptions)
	if err != nil {
		return nil, err
	}
	snap, err := s.read(ctx, req, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	resp := addressInfoResponse{heights: snap.heights(), SpentOutputs: []spentOutput{}}
	for _, o := range snap.outputs {
		resp.TotalReceived += o.Spend.Amount
		if !unlocked(o.UnlockTime, o.Link.Height, snap.tip, now) {
			resp.LockedFunds += o.Spend.Amount
		}
	}
	byID := snap.outputsByID()
	for _, sp := range snap.spends {
		src, ok := byID[sp.Source]
		if !ok {
			continue
		}
		resp.TotalSent += src.Spend.Amount
		resp.SpentOutputs = append(resp.SpentOutputs, spent(sp, src))
	}
	return resp, nil
}

type addressTx struct {
	ID            uint64        `json:"id"`
	Hash          keys.Hash     `json:"hash"`
	Timestamp     string        `json:"timestamp"`
	TotalReceived uint64        `json:"total_received,string"`
	TotalSent     uint64        `json:"total_sent,string"`
	UnlockTime    uint64        `json:"unlock_time"`
	Height        uint64        `json:"height"`
	SpentOutputs  []spentOutput `json:"spent_outputs"`
	PaymentID     string        `json:"payment_id,omitempty"`
	Coinbase      bool          `json:"coinbase"`
	Mempool       bool          `json:"mempool"`
	Mixin         uint32        `json:"mixin"`
}

type addressTxsResponse struct {
	TotalReceived uint64 `json:"total_received,string"`
	heights
	Transactions []*addressTx `json:"transactions"`
}

func (s *Server) getAddressTxs(ctx context.Context, body []byte) (any, error) {
	req, err := wire.FromJSON(body, credentialsSchema.Read, requestOptions)
	if err != nil {
		return nil, err
	}
	snap, err := s.read(ctx, req, false)
	if err != nil {
		return nil, err
	}

	txs := make(map[store.TransactionLink]*addressTx)
	entry := func(link store.TransactionLink, ts, unlock uint64) *addressTx {
		if t, ok := txs[link]; ok {
			return t
		}
		t := &addressTx{
			Hash:         link.TxHash,
			Timestamp:    time.Unix(int64(ts), 0).UTC().Format(time.RFC3339),
			UnlockTime:   unlock,
			Height:       uint64(link.Height),
			SpentOutputs: []spentOutput{},
		}
		txs[link] = t
		return t
	}

	resp := addressTxsResponse{heights: snap.heights()}
	for _, o := range snap.outputs {
		t := entry(o.Link, o.Timestamp, o.UnlockTime)
		t.TotalReceived += o.Spend.Amount
		t.Coinbase = t.Coinbase || o.ExtraFlags()&store.ExtraCoinbase != 0
		t.Mixin = o.Spend.MixinCount
		if n := o.PaymentIDLen(); n > 0 {
			t.PaymentID = hex.EncodeToString(o.PaymentID[:n])
		}
		resp.TotalReceived += o.Spend.Amount
	}
	byID := snap.outputsByID()
	for _, sp := range snap.spends {
		src, ok := byID[sp.Source]
		if !ok {
			continue
		}
		t := entry(sp.Link, sp.Timestamp, sp.UnlockTime)
		t.TotalSent += src.Spend.Amount
		t.Mixin = sp.MixinCount
		t.SpentOutputs = append(t.SpentOutputs, spent(sp, src))
		if sp.Length > 0 && t.PaymentID == "" {
			t.PaymentID = hex.EncodeToString(sp.PaymentID[:sp.Length])
		}
	}

	resp.Transactions = make([]*addressTx, 0, len(txs))
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, t)
	}
	slices.SortFunc(resp.Transactions, func(a, b *addressTx) int {
		if a.Height != b.Height {
			return cmp.Compare(a.Height, b.Height)
		}
		return slices.Compare(a.Hash[:], b.Hash[:])
	})
	for i, t := range resp.Transactions {
		t.ID = uint64(i)
	}
	return resp, nil
}

type unspentOutput struct {
	Amount         uint64          `json:"amount,string"`
	PublicKey      keys.PublicKey  `json:"public_key"`
	Index          uint32          `json:"index"`
	GlobalIndex    uint64          `json:"global_index"`
	RCT            string          `json:"rct,omitempty"`
	TxHash         keys.Hash       `json:"tx_hash"`
	TxPrefixHash   keys.Hash       `json:"tx_prefix_hash"`
	TxPub          keys.PublicKey  `json:"tx_pub_key"`
	Timestamp      string          `json:"timestamp"`
	Height         uint64          `json:"height"`
	SpendKeyImages []keys.KeyImage `json:"spend_key_images"`
}

type unspentResponse struct {
	PerKBFee uint64          `json:"per_kb_fee"`
	Amount   uint64          `json:"amount,string"`
	Outputs  []unspentOutput `json:"outputs"`
}

// getUnspentOuts lists every received output at or above the dust
// threshold with the key images seen spending it. The client filters real
// spends with its secret spend key.
func (s *Server) getUnspentOuts(ctx context.Context, body []byte) (any, error) {
	req, err := wire.FromJSON(body, unspentSchema.Read, requestOptions)
	if err != nil {
		return nil, err
	}
	snap, err := s.read(ctx, req.credentials, true)
	if err != nil {
		return nil, err
	}

	resp := unspentResponse{PerKBFee: s.perKBFee, Outputs: []unspentOutput{}}
	for _, o := range snap.outputs {
		if !req.UseDust && o.Spend.Amount < req.DustThreshold {
			continue
		}
		out := unspentOutput{
			Amount:         o.Spend.Amount,
			PublicKey:      o.Pub,
			Index:          o.Spend.Index,
			GlobalIndex:    o.Spend.ID.Low,
			TxHash:         o.Link.TxHash,
			TxPrefixHash:   o.TxPrefixHash,
			TxPub:          o.Spend.TxPublic,
			Timestamp:      time.Unix(int64(o.Timestamp), 0).UTC().Format(time.RFC3339),
			Height:         uint64(o.Link.Height),
			SpendKeyImages: []keys.KeyImage{},
		}
		if o.ExtraFlags()&store.ExtraRingCT != 0 {
			out.RCT = hex.EncodeToString(o.RingctMask[:])
		}
		for _, ki := range snap.images[o.Spend.ID] {
			out.SpendKeyImages = append(out.SpendKeyImages, ki.Value)
		}
		resp.Amount += o.Spend.Amount
		resp.Outputs = append(resp.Outputs, out)
	}
	return resp, nil
}
