package contracts

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OrderUIDLength is digest(32) + owner(20) + validTo(4)
const OrderUIDLength = 56

// OrderUID identifies an order on the settlement contract
type OrderUID [OrderUIDLength]byte

// PackOrderUID concatenates digest, owner and validTo
func PackOrderUID(digest common.Hash, owner common.Address, validTo uint32) OrderUID {
	var uid OrderUID
	copy(uid[:32], digest[:])
	copy(uid[32:52], owner[:])
	binary.BigEndian.PutUint32(uid[52:], validTo)
	return uid
}

// ParseOrderUID decodes a 0x-prefixed 56 byte hex string
func ParseOrderUID(s string) (OrderUID, error) {
	var uid OrderUID
	b, err := hexutil.Decode(s)
	if err != nil {
		return uid, fmt.Errorf("invalid order uid: %w", err)
	}
	if len(b) != OrderUIDLength {
		return uid, fmt.Errorf("invalid order uid length %d", len(b))
	}
	copy(uid[:], b)
	return uid, nil
}

// Digest returns the EIP-712 order digest part
func (u OrderUID) Digest() common.Hash {
	return common.BytesToHash(u[:32])
}

// Owner returns the order owner part
func (u OrderUID) Owner() common.Address {
	return common.BytesToAddress(u[32:52])
}

// ValidTo returns the expiry part
func (u OrderUID) ValidTo() uint32 {
	return binary.BigEndian.Uint32(u[52:])
}

// Bytes returns the uid as a slice
func (u OrderUID) Bytes() []byte {
	return u[:]
}

// Hex returns the 0x-prefixed encoding
func (u OrderUID) Hex() string {
	return hexutil.Encode(u[:])
}

func (u OrderUID) String() string {
	return u.Hex()
}

// IsZero reports whether the uid is unset
func (u OrderUID) IsZero() bool {
	return u == OrderUID{}
}

// MarshalText implements encoding.TextMarshaler
func (u OrderUID) MarshalText() ([]byte, error) {
	return []byte(u.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (u *OrderUID) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
