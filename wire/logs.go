package wire

import "github.com/holiman/uint256"

// topicAddress extracts the low 20 bytes of a 32-byte topic, the byte
// layout Solidity uses to encode an indexed address parameter (spec §4.6,
// §6: "addresses come from the low 20 bytes of a 32-byte topic").
func topicAddress(h Hash) Address {
	var a Address
	copy(a[:], h[12:])
	return a
}

func topicU256(h Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(h[:])
}

// ParseTransferLog classifies a log by its first topic and decodes it into
// zero or more TokenTransfer records, per spec §4.6's byte-layout rules.
// Malformed data is silently ignored: it returns no records rather than an
// error, matching "malformed data is silently ignored (no record emitted)".
func ParseTransferLog(log LogRecord) []TokenTransfer {
	if len(log.Topics) == 0 {
		return nil
	}
	switch log.Topics[0] {
	case TransferEventSig:
		return parseERC20OrERC721(log)
	case TransferSingleEventSig:
		return parseERC1155Single(log)
	case TransferBatchEventSig:
		return parseERC1155Batch(log)
	default:
		return nil
	}
}

func parseERC20OrERC721(log LogRecord) []TokenTransfer {
	switch len(log.Topics) {
	case 3:
		// ERC-20 Transfer(address indexed from, address indexed to, uint256 value)
		if len(log.Data) < 32 {
			return nil
		}
		amount := new(uint256.Int).SetBytes(log.Data[:32])
		if amount.IsZero() {
			// Open question (i): zero-amount transfers are discarded.
			return nil
		}
		to := topicAddress(log.Topics[2])
		return []TokenTransfer{{
			Token:     log.Address,
			From:      topicAddress(log.Topics[1]),
			To:        &to,
			Value:     amount,
			TokenType: TokenERC20,
		}}
	case 4:
		// ERC-721 Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
		to := topicAddress(log.Topics[2])
		id := topicU256(log.Topics[3])
		return []TokenTransfer{{
			Token:     log.Address,
			From:      topicAddress(log.Topics[1]),
			To:        &to,
			Value:     uint256.NewInt(1),
			TokenType: TokenERC721,
			ID:        id,
		}}
	default:
		return nil
	}
}

func parseERC1155Single(log LogRecord) []TokenTransfer {
	// TransferSingle(operator indexed, from indexed, to indexed, id, value)
	if len(log.Topics) != 4 || len(log.Data) < 64 {
		return nil
	}
	to := topicAddress(log.Topics[3])
	id := new(uint256.Int).SetBytes(log.Data[:32])
	value := new(uint256.Int).SetBytes(log.Data[32:64])
	return []TokenTransfer{{
		Token:     log.Address,
		From:      topicAddress(log.Topics[2]),
		To:        &to,
		Value:     value,
		TokenType: TokenERC1155,
		ID:        id,
	}}
}

// parseERC1155Batch decodes TransferBatch(operator indexed, from indexed,
// to indexed, ids[], values[]): two length-prefixed dynamic arrays of
// 32-byte words packed the standard Solidity ABI way (offset, length, then
// elements for each array).
func parseERC1155Batch(log LogRecord) []TokenTransfer {
	if len(log.Topics) != 4 {
		return nil
	}
	data := log.Data
	if len(data) < 64 {
		return nil
	}
	idsOffset := new(uint256.Int).SetBytes(data[:32]).Uint64()
	valuesOffset := new(uint256.Int).SetBytes(data[32:64]).Uint64()

	ids, ok1 := readUint256Array(data, idsOffset)
	values, ok2 := readUint256Array(data, valuesOffset)
	if !ok1 || !ok2 || len(ids) != len(values) {
		return nil
	}

	from := topicAddress(log.Topics[2])
	to := topicAddress(log.Topics[3])
	transfers := make([]TokenTransfer, 0, len(ids))
	for i := range ids {
		transfers = append(transfers, TokenTransfer{
			Token:     log.Address,
			From:      from,
			To:        &to,
			Value:     values[i],
			TokenType: TokenERC1155,
			ID:        ids[i],
		})
	}
	return transfers
}

// readUint256Array reads a Solidity-ABI-encoded dynamic uint256[] whose
// length word starts at byte offset `offset` within data.
func readUint256Array(data []byte, offset uint64) ([]*uint256.Int, bool) {
	if offset+32 > uint64(len(data)) {
		return nil, false
	}
	length := new(uint256.Int).SetBytes(data[offset : offset+32]).Uint64()
	start := offset + 32
	end := start + length*32
	if end > uint64(len(data)) || end < start {
		return nil, false
	}
	out := make([]*uint256.Int, length)
	for i := uint64(0); i < length; i++ {
		out[i] = new(uint256.Int).SetBytes(data[start+i*32 : start+i*32+32])
	}
	return out, true
}
