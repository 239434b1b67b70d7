// Package util implements the standalone helper surface of spec §4.8:
// Solidity revert-reason decoding, proxy-implementation resolution, a
// Multicall3-style batched-call deployer, and ERC-20 metadata/native-token
// helpers.
package util

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/clydemeng/ethsim/wire"
)

// panicMessages maps canonical Solidity Panic(uint256) codes to their
// human-readable message, per spec §4.8's exact wording.
var panicMessages = map[byte]string{
	0x01: "assertion",
	0x11: "overflow",
	0x12: "div-by-zero",
	0x21: "invalid enum cast",
	0x22: "array OOB",
	0x31: "invalid array pop",
	0x32: "out-of-range index",
	0x41: "zero-init",
	0x51: "invalid internal function call",
}

var (
	stringType  abi.Type
	uint256Type abi.Type
)

func init() {
	var err error
	stringType, err = abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err = abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
}

// DecodeRevertReason implements spec §4.8's "Solidity-error decoder": it
// recognizes the Error(string) and Panic(uint256) selectors and returns
// the decoded human-readable message. The second return value is false
// when output doesn't match either selector, signalling the caller to
// fall back to the raw-hex representation (spec §4.6 "Frame close-out").
func DecodeRevertReason(output []byte) (string, bool) {
	if len(output) < 4 {
		return "", false
	}
	selector := output[:4]
	payload := output[4:]

	switch {
	case bytes.Equal(selector, wire.ErrorSelector[:]):
		args, err := abi.Arguments{{Type: stringType}}.Unpack(payload)
		if err != nil || len(args) != 1 {
			return "", false
		}
		msg, ok := args[0].(string)
		if !ok {
			return "", false
		}
		return msg, true

	case bytes.Equal(selector, wire.PanicSelector[:]):
		args, err := abi.Arguments{{Type: uint256Type}}.Unpack(payload)
		if err != nil || len(args) != 1 {
			return "", false
		}
		code := args[0].(*big.Int)
		if !code.IsUint64() || code.Uint64() > 0xff {
			return fmt.Sprintf("Panic: Unknown error code (0x%x)", code), true
		}
		if msg, ok := panicMessages[byte(code.Uint64())]; ok {
			return msg, true
		}
		return fmt.Sprintf("Panic: Unknown error code (0x%x)", code), true

	default:
		return "", false
	}
}
