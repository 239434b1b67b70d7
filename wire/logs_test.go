package wire

import (
	"testing"

	"github.com/holiman/uint256"
)

func topicFromAddress(a Address) Hash {
	var h Hash
	copy(h[12:], a[:])
	return h
}

func topicFromUint(v uint64) Hash {
	var h Hash
	u := uint256.NewInt(v)
	b := u.Bytes32()
	copy(h[:], b[:])
	return h
}

func TestParseTransferLogERC20(t *testing.T) {
	from := Address{1}
	to := Address{2}
	amount := uint256.NewInt(1_000_000)
	data := amount.Bytes32()

	log := LogRecord{
		Address: Address{9},
		Topics:  []Hash{TransferEventSig, topicFromAddress(from), topicFromAddress(to)},
		Data:    data[:],
	}

	got := ParseTransferLog(log)
	if len(got) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(got))
	}
	if got[0].TokenType != TokenERC20 {
		t.Fatalf("expected ERC20, got %v", got[0].TokenType)
	}
	if *got[0].To != to {
		t.Fatalf("to mismatch: %x", got[0].To)
	}
	if !got[0].Value.Eq(amount) {
		t.Fatalf("value mismatch: %s", got[0].Value)
	}
}

func TestParseTransferLogZeroAmountDiscarded(t *testing.T) {
	from := Address{1}
	to := Address{2}
	var zero [32]byte
	log := LogRecord{
		Address: Address{9},
		Topics:  []Hash{TransferEventSig, topicFromAddress(from), topicFromAddress(to)},
		Data:    zero[:],
	}
	if got := ParseTransferLog(log); len(got) != 0 {
		t.Fatalf("expected zero-amount transfer to be discarded, got %d", len(got))
	}
}

func TestParseTransferLogERC721(t *testing.T) {
	from := Address{1}
	to := Address{2}
	log := LogRecord{
		Address: Address{9},
		Topics:  []Hash{TransferEventSig, topicFromAddress(from), topicFromAddress(to), topicFromUint(811)},
	}
	got := ParseTransferLog(log)
	if len(got) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(got))
	}
	if got[0].TokenType != TokenERC721 {
		t.Fatalf("expected ERC721, got %v", got[0].TokenType)
	}
	if got[0].ID.Uint64() != 811 {
		t.Fatalf("id mismatch: %s", got[0].ID)
	}
	if !got[0].Value.Eq(uint256.NewInt(1)) {
		t.Fatalf("value should be 1, got %s", got[0].Value)
	}
}

func TestParseTransferBatch(t *testing.T) {
	operator := Address{3}
	from := Address{1}
	to := Address{2}

	var buf []byte
	appendWord := func(v uint64) {
		u := uint256.NewInt(v)
		b := u.Bytes32()
		buf = append(buf, b[:]...)
	}
	// ids offset, values offset
	appendWord(64)
	appendWord(160)
	// ids array: length 2, a=10, b=20
	appendWord(2)
	appendWord(10)
	appendWord(20)
	// values array: length 2, x=100, y=200
	appendWord(2)
	appendWord(100)
	appendWord(200)

	log := LogRecord{
		Address: Address{9},
		Topics:  []Hash{TransferBatchEventSig, topicFromAddress(operator), topicFromAddress(from), topicFromAddress(to)},
		Data:    buf,
	}
	got := ParseTransferLog(log)
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(got))
	}
	if got[0].ID.Uint64() != 10 || got[0].Value.Uint64() != 100 {
		t.Fatalf("first transfer mismatch: id=%s value=%s", got[0].ID, got[0].Value)
	}
	if got[1].ID.Uint64() != 20 || got[1].Value.Uint64() != 200 {
		t.Fatalf("second transfer mismatch: id=%s value=%s", got[1].ID, got[1].Value)
	}
}
