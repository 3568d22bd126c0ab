package chain

import (
	"strconv"
	"strings"
)

// Address is a 0x-prefixed hex account or contract address.
// Comparison is always case-insensitive; Normalize lower-cases once so the
// rest of the client can compare directly.
type Address string

// Normalize lower-cases an address string.
func Normalize(addr string) Address {
	return Address(strings.ToLower(addr))
}

// Normalize lower-cases the address.
func (a Address) Normalize() Address {
	return Address(strings.ToLower(string(a)))
}

// Equal compares two addresses ignoring case.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

func (a Address) String() string { return string(a) }

// Listing is an on-chain marketplace record. PriceInGems == 0 means
// "not listed".
type Listing struct {
	TokenID     uint64  `json:"tokenId"`
	Seller      Address `json:"seller"`
	PriceInGems uint64  `json:"priceInGems"`
}

// Listed reports whether the record represents an active listing.
func (l Listing) Listed() bool { return l.PriceInGems > 0 }

// Log is one raw receipt log entry. Topics[0] identifies the event.
type Log struct {
	Address Address  `json:"address"`
	Topics  []string `json:"topics"`
	Data    []byte   `json:"data"`
}

// Receipt is a mined transaction receipt.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Logs        []Log  `json:"logs"`
}

// Args holds decoded event arguments keyed by name. Values are kept as
// strings the way filter backends deliver them; typed accessors convert on
// demand.
type Args map[string]string

// Uint returns the named argument as an unsigned integer.
func (a Args) Uint(key string) (uint64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Address returns the named argument normalized as an Address.
func (a Args) Address(key string) Address {
	return Normalize(a[key])
}

// String returns the named argument, or "" when absent.
func (a Args) String(key string) string { return a[key] }

// Event is a decoded contract event, either from an event filter query or
// from receipt log decoding.
type Event struct {
	Name        string  `json:"name"`
	Address     Address `json:"address"`
	BlockNumber uint64  `json:"blockNumber"`
	TxHash      string  `json:"txHash"`
	Args        Args    `json:"args"`
}
