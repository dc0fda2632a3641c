package rocksdb

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
)

// Heights and ids are fixed-width decimal so lexical order is numeric order.
var (
	accountPrefix     = []byte("a/")
	addressPrefix     = []byte("aa/")
	outputPrefix      = []byte("o/")
	spendPrefix       = []byte("s/")
	keyImagePrefix    = []byte("ki/")
	requestPrefix     = []byte("r/")
	blockPrefix       = []byte("b/")
	eventPrefix       = []byte("e/")
	eventSeqPrefix    = []byte("es/")
	eventCursorPrefix = []byte("ec/")
	metaPrefix        = []byte("m/")
)

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return []byte{0xFF}
}

func keyMeta(name string) []byte {
	b := make([]byte, 0, len(metaPrefix)+len(name))
	b = append(b, metaPrefix...)
	return append(b, name...)
}

func keyAccount(id store.AccountID) []byte {
	b := make([]byte, 0, len(accountPrefix)+20)
	b = append(b, accountPrefix...)
	return appendUint64Fixed20(b, uint64(id))
}

// keyAddress indexes raw address bytes, view key first.
func keyAddress(addr store.AccountAddress) []byte {
	b := make([]byte, 0, len(addressPrefix)+64)
	b = append(b, addressPrefix...)
	return append(b, addr.Bytes()...)
}

func keyAccountScoped(prefix []byte, id store.AccountID) []byte {
	b := make([]byte, 0, len(prefix)+21)
	b = append(b, prefix...)
	b = appendUint64Fixed20(b, uint64(id))
	return append(b, '/')
}

func keyAccountHeight(prefix []byte, id store.AccountID, height store.BlockID) []byte {
	b := keyAccountScoped(prefix, id)
	return appendUint64Fixed20(b, uint64(height))
}

func appendOutputID(b []byte, id store.OutputID) []byte {
	b = appendUint64Fixed20(b, id.High)
	b = append(b, '/')
	return appendUint64Fixed20(b, id.Low)
}

func keyOutput(id store.AccountID, o store.Output) []byte {
	b := keyAccountHeight(outputPrefix, id, o.Link.Height)
	b = append(b, '/')
	b = hex.AppendEncode(b, o.Link.TxHash[:])
	b = append(b, '/')
	return appendOutputID(b, o.Spend.ID)
}

func keySpend(id store.AccountID, s store.Spend) []byte {
	b := keyAccountHeight(spendPrefix, id, s.Link.Height)
	b = append(b, '/')
	b = hex.AppendEncode(b, s.Link.TxHash[:])
	b = append(b, '/')
	b = hex.AppendEncode(b, s.Image[:])
	b = append(b, '/')
	return appendOutputID(b, s.Source)
}

func keyKeyImagePrefix(id store.AccountID, source store.OutputID) []byte {
	b := keyAccountScoped(keyImagePrefix, id)
	b = appendOutputID(b, source)
	return append(b, '/')
}

func keyKeyImage(id store.AccountID, source store.OutputID, image keys.KeyImage) []byte {
	return hex.AppendEncode(keyKeyImagePrefix(id, source), image[:])
}

func keyRequestPrefix(kind store.RequestKind) []byte {
	b := make([]byte, 0, len(requestPrefix)+4)
	b = append(b, requestPrefix...)
	b = strconv.AppendUint(b, uint64(kind), 10)
	return append(b, '/')
}

func keyRequest(kind store.RequestKind, addr store.AccountAddress) []byte {
	return append(keyRequestPrefix(kind), addr.Bytes()...)
}

func keyBlock(height store.BlockID) []byte {
	b := make([]byte, 0, len(blockPrefix)+20)
	b = append(b, blockPrefix...)
	return appendUint64Fixed20(b, uint64(height))
}

func keyEventSeq(id store.AccountID) []byte {
	b := make([]byte, 0, len(eventSeqPrefix)+20)
	b = append(b, eventSeqPrefix...)
	return appendUint64Fixed20(b, uint64(id))
}

func keyEventCursor(id store.AccountID) []byte {
	b := make([]byte, 0, len(eventCursorPrefix)+20)
	b = append(b, eventCursorPrefix...)
	return appendUint64Fixed20(b, uint64(id))
}

func keyEvent(id store.AccountID, eventID uint64) []byte {
	return appendUint64Fixed20(keyAccountScoped(eventPrefix, id), eventID)
}

func parseEventID(key []byte, id store.AccountID) (uint64, error) {
	prefix := keyAccountScoped(eventPrefix, id)
	if len(key) != len(prefix)+20 {
		return 0, errors.New("rocksdb: invalid event key")
	}
	return parseFixed20(key[len(prefix):])
}

func appendUint64Fixed20(dst []byte, n uint64) []byte {
	var buf [20]byte
	for i := 19; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, buf[:]...)
}

func parseFixed20(b []byte) (uint64, error) {
	if len(b) != 20 {
		return 0, errors.New("invalid fixed20")
	}
	return strconv.ParseUint(string(b), 10, 64)
}

func uint64To8(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
