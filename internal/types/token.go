package types

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSymbol is the text form of the chain's native asset.
const NativeSymbol = "native"

// NativeDecimals is the precision of the chain's native asset.
const NativeDecimals uint8 = 18

// TokenKind tags a TokenRef.
type TokenKind uint8

const (
	// TokenNative is the chain's gas asset, moved as transaction value.
	TokenNative TokenKind = iota + 1
	// TokenContract is an ERC-20 contract.
	TokenContract
)

// TokenRef identifies a tradable asset: either the native asset or an ERC-20
// contract address. The zero value is invalid.
type TokenRef struct {
	kind    TokenKind
	address common.Address
}

// Native returns the reference to the native asset.
func Native() TokenRef {
	return TokenRef{kind: TokenNative}
}

// Contract returns the reference to the ERC-20 token at addr.
func Contract(addr common.Address) TokenRef {
	return TokenRef{kind: TokenContract, address: addr}
}

// ParseTokenRef parses "native" (case-insensitive) or a 0x-prefixed hex address.
func ParseTokenRef(s string) (TokenRef, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, NativeSymbol) {
		return Native(), nil
	}
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return TokenRef{}, ErrInvalidInput.Wrapf("token %q is neither %q nor a hex address", s, NativeSymbol)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return TokenRef{}, ErrInvalidInput.Wrap("token address cannot be the zero address")
	}
	return Contract(addr), nil
}

// MustParseTokenRef is ParseTokenRef that panics on error. Intended for tests and constants.
func MustParseTokenRef(s string) TokenRef {
	t, err := ParseTokenRef(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TokenRef) Kind() TokenKind { return t.kind }

func (t TokenRef) IsNative() bool { return t.kind == TokenNative }

func (t TokenRef) IsZero() bool { return t.kind == 0 }

// Address returns the contract address and true for contract tokens.
func (t TokenRef) Address() (common.Address, bool) {
	if t.kind != TokenContract {
		return common.Address{}, false
	}
	return t.address, true
}

func (t TokenRef) Equal(o TokenRef) bool {
	return t.kind == o.kind && t.address == o.address
}

func (t TokenRef) String() string {
	switch t.kind {
	case TokenNative:
		return NativeSymbol
	case TokenContract:
		return t.address.Hex()
	default:
		return ""
	}
}

func (t TokenRef) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return nil, ErrInvalidInput.Wrap("empty token reference")
	}
	return []byte(t.String()), nil
}

func (t *TokenRef) UnmarshalText(b []byte) error {
	parsed, err := ParseTokenRef(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t TokenRef) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, ErrInvalidInput.Wrap("empty token reference")
	}
	return t.String(), nil
}

// Scan implements sql.Scanner.
func (t *TokenRef) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into TokenRef", src)
	}
}
