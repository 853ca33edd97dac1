// Package features turns transaction records into the numeric vectors shared
// by the rolling statistics, classifier and explainability stages.
package features

import (
	"sort"

	"github.com/mbd888/pulseguard/internal/txn"
)

// Version identifies the feature key set below. Bump it when keys change.
const Version = "v1"

// Feature keys
const (
	KeyValue              = "value"
	KeyGas                = "gas"
	KeyIsExternal         = "is_external"
	KeyRecency            = "recency"
	KeyIsContractCreation = "is_contract_creation"
)

// Keys lists every feature in a fixed order.
var Keys = []string{KeyValue, KeyGas, KeyIsExternal, KeyRecency, KeyIsContractCreation}

// Vector maps feature keys to magnitudes. Missing keys read as 0.
type Vector map[string]float64

// Get returns the value for key, or 0 if absent.
func (v Vector) Get(key string) float64 {
	return v[key]
}

// SortedKeys returns the vector's keys in lexical order.
func (v Vector) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Extract builds the vector for the i-th of n records in a batch.
func Extract(r txn.Record, i, n int) Vector {
	recency := 0.0
	if n > 0 {
		recency = float64(i+1) / float64(n)
	}
	return Vector{
		KeyValue:              r.Value,
		KeyGas:                float64(r.Gas),
		KeyIsExternal:         boolToFloat(r.HasSender()),
		KeyRecency:            recency,
		KeyIsContractCreation: boolToFloat(r.IsContractCreation()),
	}
}

// ExtractBatch extracts vectors for every record, preserving order.
func ExtractBatch(rs []txn.Record) []Vector {
	out := make([]Vector, len(rs))
	for i, r := range rs {
		out[i] = Extract(r, i, len(rs))
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
