// Package txn defines the transaction records the scoring pipeline consumes
// and normalizes loosely shaped client payloads into them.
package txn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mbd888/pulseguard/internal/validation"
)

// Upper bounds on numeric fields. MaxValue sits far above any real token
// supply in base units; MaxGas is the largest integer a float64 holds exactly.
const (
	MaxValue = 1e36
	MaxGas   = 1 << 53
)

// ErrInvalid is returned when a payload cannot be normalized into a Record.
var ErrInvalid = errors.New("invalid transaction")

// Record is a normalized, immutable transaction.
type Record struct {
	Hash      string
	From      string
	To        string // empty means contract creation
	Value     float64
	Gas       uint64
	Timestamp *int64
	Nonce     *uint64
}

// IsContractCreation reports whether the record has no recipient.
func (r Record) IsContractCreation() bool {
	return r.To == ""
}

// HasSender reports whether the record carries a sender address.
func (r Record) HasSender() bool {
	return r.From != ""
}

// Payload is the wire shape accepted from clients. Both "from" and "from_"
// are accepted for the sender; "to" may be null or omitted.
type Payload struct {
	Hash      string   `json:"hash,omitempty"`
	From      string   `json:"from,omitempty"`
	FromAlias string   `json:"from_,omitempty"`
	To        *string  `json:"to"`
	Value     Quantity `json:"value"`
	Gas       Quantity `json:"gas"`
	Timestamp *int64   `json:"timestamp,omitempty"`
	Nonce     *uint64  `json:"nonce,omitempty"`
}

// Quantity is a numeric field that accepts JSON numbers, decimal strings
// and 0x-prefixed hex quantities as returned by node RPC.
type Quantity float64

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*q = 0
			return nil
		}
		if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
			n, err := hexutil.DecodeBig("0x" + raw[2:])
			if err != nil {
				return fmt.Errorf("hex quantity %q: %w", raw, err)
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			*q = Quantity(f)
			return nil
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", raw, err)
	}
	*q = Quantity(f)
	return nil
}

// Normalize validates a payload and converts it into a Record.
func Normalize(p Payload) (Record, error) {
	from := validation.SanitizeString(p.From)
	if from == "" {
		from = validation.SanitizeString(p.FromAlias)
	}
	var to string
	if p.To != nil {
		to = validation.SanitizeString(*p.To)
	}
	hash := validation.SanitizeString(p.Hash)

	value := float64(p.Value)
	gas := float64(p.Gas)

	errs := validation.Validate(
		validation.MaxLength("from", from, validation.MaxStringLength),
		validation.MaxLength("to", to, validation.MaxStringLength),
		validation.MaxLength("hash", hash, validation.MaxStringLength),
		validation.NonNegative("value", value),
		validation.AtMost("value", value, MaxValue),
		validation.NonNegative("gas", gas),
		validation.AtMost("gas", gas, MaxGas),
		validation.WholeNumber("gas", gas),
	)
	if len(errs) > 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalid, errs.Error())
	}

	return Record{
		Hash:      hash,
		From:      CanonicalAddress(from),
		To:        CanonicalAddress(to),
		Value:     value,
		Gas:       uint64(gas),
		Timestamp: p.Timestamp,
		Nonce:     p.Nonce,
	}, nil
}

// NormalizeAll normalizes payloads in order. The first failure aborts and
// names the offending index.
func NormalizeAll(ps []Payload) ([]Record, error) {
	out := make([]Record, 0, len(ps))
	for i, p := range ps {
		r, err := Normalize(p)
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// CanonicalAddress lowercases well-formed hex addresses so the same account
// maps to one graph node regardless of checksum casing. Other identifiers
// pass through unchanged.
func CanonicalAddress(addr string) string {
	if addr == "" {
		return ""
	}
	if validation.IsValidEthAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return addr
}
