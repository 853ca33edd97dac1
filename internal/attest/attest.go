// Package attest produces tamper-evident checksums, optionally signed, over
// score results.
//
// Payloads are canonicalized to compact JSON with object keys sorted at every
// level, so a struct and the same document decoded into a map attest to the
// same checksum.
package attest

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/crypto"
)

// Digest algorithms.
const (
	DigestSHA256    = "sha256"
	DigestKeccak256 = "keccak256"
)

// AlgNone marks a checksum-only attestation.
const AlgNone = "none"

// ErrUnknownDigest is returned for an unsupported digest name.
var ErrUnknownDigest = errors.New("unknown digest algorithm")

// Attestation is attached to every score response.
type Attestation struct {
	Checksum  string `json:"checksum"`
	Alg       string `json:"alg"`
	Signature string `json:"signature,omitempty"` // base64
}

// Info describes the active attestation setup.
type Info struct {
	Alg       string `json:"alg"`
	Digest    string `json:"digest"`
	PublicKey string `json:"publicKey,omitempty"` // hex
	Address   string `json:"address,omitempty"`   // secp256k1 only
}

// Attestor checksums and signs payloads. It is safe for concurrent use.
type Attestor struct {
	digestName string
	digest     func([]byte) []byte
	signer     Signer
	logger     *slog.Logger
}

// New creates an attestor. A nil signer yields checksum-only attestations.
func New(digestName string, signer Signer) (*Attestor, error) {
	if digestName == "" {
		digestName = DigestSHA256
	}
	fn, err := digestFunc(digestName)
	if err != nil {
		return nil, err
	}
	return &Attestor{digestName: digestName, digest: fn, signer: signer, logger: slog.Default()}, nil
}

// Algorithm returns the signing algorithm name, or "none".
func (a *Attestor) Algorithm() string {
	if a.signer == nil {
		return AlgNone
	}
	return a.signer.Algorithm()
}

// Info reports the algorithm, digest and public key.
func (a *Attestor) Info() Info {
	info := Info{Alg: a.Algorithm(), Digest: a.digestName}
	if a.signer != nil {
		info.PublicKey = hex.EncodeToString(a.signer.PublicKey())
		if as, ok := a.signer.(interface{ Address() string }); ok {
			info.Address = as.Address()
		}
	}
	return info
}

// WithLogger sets the logger used to report degraded signing.
func (a *Attestor) WithLogger(logger *slog.Logger) *Attestor {
	a.logger = logger
	return a
}

// Attest canonicalizes payload, digests it and signs the digest when a
// signer is configured. A signing failure degrades to a checksum-only
// attestation; only an unencodable payload is an error.
func (a *Attestor) Attest(payload any) (Attestation, error) {
	sum, err := a.Sum(payload)
	if err != nil {
		return Attestation{}, err
	}
	att := Attestation{Checksum: hex.EncodeToString(sum), Alg: AlgNone}
	if a.signer == nil {
		return att, nil
	}

	sig, err := a.signer.Sign(sum)
	if err != nil {
		a.logger.Warn("attestation signing failed, returning checksum only",
			"alg", a.signer.Algorithm(), "error", err)
		return att, nil
	}
	att.Alg = a.signer.Algorithm()
	att.Signature = base64.StdEncoding.EncodeToString(sig)
	return att, nil
}

// Verify recomputes the checksum of payload and checks the signature, if any.
func (a *Attestor) Verify(payload any, att Attestation) (bool, error) {
	sum, err := a.Sum(payload)
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(att.Checksum)
	if err != nil || !bytes.Equal(sum, want) {
		return false, nil
	}

	if att.Alg == "" || att.Alg == AlgNone {
		return att.Signature == "", nil
	}
	if a.signer == nil || a.signer.Algorithm() != att.Alg {
		return false, nil
	}
	sig, err := base64.StdEncoding.DecodeString(att.Signature)
	if err != nil {
		return false, nil
	}
	return a.signer.Verify(sum, sig), nil
}

// Sum returns the digest of the canonical encoding of payload.
func (a *Attestor) Sum(payload any) ([]byte, error) {
	data, err := Canonical(payload)
	if err != nil {
		return nil, err
	}
	return a.digest(data), nil
}

// Canonical encodes v as compact JSON with sorted object keys. Numbers keep
// their original textual form.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func digestFunc(name string) (func([]byte) []byte, error) {
	switch name {
	case DigestSHA256:
		return func(b []byte) []byte {
			s := sha256.Sum256(b)
			return s[:]
		}, nil
	case DigestKeccak256:
		return func(b []byte) []byte { return crypto.Keccak256(b) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDigest, name)
	}
}
