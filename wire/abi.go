package wire

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// erc20MetadataABI is the minimal ABI fragment for the four standard ERC-20
// metadata getters plus balanceOf that this library queries (spec §4.8, §6).
const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ERC20ABI is parsed once and shared by callers that need to encode getter
// calldata or decode their return values.
var ERC20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic("wire: invalid embedded ERC-20 ABI: " + err.Error())
	}
	ERC20ABI = parsed
}

// PackName/PackSymbol/... return the calldata for a read-only getter call.
func PackName() ([]byte, error)        { return ERC20ABI.Pack("name") }
func PackSymbol() ([]byte, error)      { return ERC20ABI.Pack("symbol") }
func PackDecimals() ([]byte, error)    { return ERC20ABI.Pack("decimals") }
func PackTotalSupply() ([]byte, error) { return ERC20ABI.Pack("totalSupply") }
func PackBalanceOf(owner Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", owner)
}

// UnpackString/UnpackUint8/UnpackBigUint decode a getter's return value.
func UnpackString(method string, data []byte) (string, error) {
	out, err := ERC20ABI.Unpack(method, data)
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func UnpackUint8(method string, data []byte) (uint8, error) {
	out, err := ERC20ABI.Unpack(method, data)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func UnpackBigUint(method string, data []byte) (*U256, error) {
	out, err := ERC20ABI.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	b := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	u := new(U256)
	overflow := u.SetFromBig(b)
	if overflow {
		return nil, errOverflow
	}
	return u, nil
}

var errOverflow = errors.New("wire: value overflows uint256")
