package payload

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Coins carry at most 15 bytes.
const maxCoinsBits = 15 * 8

var (
	ErrInvalidAddress = errors.New("payload: not a standard internal address")
	ErrAmount         = errors.New("payload: amount must be a non-negative 120-bit integer")
)

// WriteCoins stores a as Coins (VarUInteger 16).
func WriteCoins(c *boc.Cell, a *big.Int) error {
	if err := checkAmount(a); err != nil {
		return err
	}
	return tlb.Marshal(c, tlb.VarUInteger16(*a))
}

func ReadCoins(c *boc.Cell) (*big.Int, error) {
	var v tlb.VarUInteger16
	if err := tlb.Unmarshal(c, &v); err != nil {
		return nil, err
	}
	b := big.Int(v)
	return new(big.Int).Set(&b), nil
}

// WriteAddress stores a as MsgAddressInt addr_std without anycast.
func WriteAddress(c *boc.Cell, a ton.AccountID) error {
	return tlb.Marshal(c, a.ToMsgAddress())
}

// ReadAddress loads a MsgAddress and accepts only addr_std without anycast.
func ReadAddress(c *boc.Cell) (ton.AccountID, error) {
	var m tlb.MsgAddress
	if err := tlb.Unmarshal(c, &m); err != nil {
		return ton.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return stdAddress(m)
}

// ToBoc serializes a cell tree as a bag of cells with a CRC32 trailer, the
// default of @ton/core.
func ToBoc(c *boc.Cell) ([]byte, error) {
	return c.ToBocCustom(false, true, false, 0)
}

// FromBoc parses a single-root bag of cells.
func FromBoc(b []byte) (*boc.Cell, error) {
	return boc.DeserializeSingleRootBoc(b)
}

// EncodeBody is the hex BOC form used on the HTTP API and by vaultctl.
func EncodeBody(c *boc.Cell) (string, error) {
	b, err := ToBoc(c)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DecodeBody parses a BOC given as hex (0x prefix optional) or base64.
func DecodeBody(s string) (*boc.Cell, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw, err := hex.DecodeString(h); err == nil {
		return FromBoc(raw)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(s); err != nil {
			return nil, errors.New("payload: body is neither hex nor base64")
		}
	}
	return FromBoc(raw)
}
