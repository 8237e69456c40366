package domain

import (
	"bytes"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

type ChainID uint64

func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Token identity is (ChainID, Address). Decimals and Symbol are metadata.
type Token struct {
	ChainID  ChainID        `json:"chainId"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol,omitempty"`
}

func (t Token) Equal(o Token) bool {
	return t.ChainID == o.ChainID && t.Address == o.Address
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// SortAddresses orders two token addresses the way pool factories do (token0 < token1).
func SortAddresses(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}
