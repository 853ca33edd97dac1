package attest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer algorithms.
const (
	AlgDilithium3 = "dilithium3"
	AlgSecp256k1  = "secp256k1"
)

// ErrInvalidKey is returned when signing key material cannot be parsed.
var ErrInvalidKey = errors.New("invalid attestation key")

// Signer signs attestation digests. Implementations are optional
// capabilities selected at startup.
type Signer interface {
	Algorithm() string
	Sign(digest []byte) ([]byte, error)
	Verify(digest, signature []byte) bool
	PublicKey() []byte
}

// NewSigner builds the signer named by alg from hex key material.
// "none" (or "") returns a nil Signer and no error.
func NewSigner(alg, keyHex string) (Signer, error) {
	switch strings.ToLower(alg) {
	case "", AlgNone:
		return nil, nil
	case AlgDilithium3:
		return NewDilithiumSignerFromHex(keyHex)
	case AlgSecp256k1:
		return NewSecp256k1SignerFromHex(keyHex)
	default:
		return nil, fmt.Errorf("unknown signer %q", alg)
	}
}

// ---------------------------------------------------------------------------
// Dilithium (ML-DSA, security level 3)
// ---------------------------------------------------------------------------

// DilithiumSigner signs with a post-quantum Dilithium mode3 key.
type DilithiumSigner struct {
	pk *mode3.PublicKey
	sk *mode3.PrivateKey
}

// NewDilithiumSignerFromHex derives a key pair from a 32-byte hex seed.
func NewDilithiumSignerFromHex(seedHex string) (*DilithiumSigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(seedHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != mode3.SeedSize {
		return nil, fmt.Errorf("%w: dilithium3 seed must be %d bytes, got %d", ErrInvalidKey, mode3.SeedSize, len(raw))
	}
	var seed [mode3.SeedSize]byte
	copy(seed[:], raw)
	pk, sk := mode3.NewKeyFromSeed(&seed)
	return &DilithiumSigner{pk: pk, sk: sk}, nil
}

// GenerateDilithiumSigner creates a signer with a fresh random key.
func GenerateDilithiumSigner() (*DilithiumSigner, error) {
	pk, sk, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dilithium keygen: %w", err)
	}
	return &DilithiumSigner{pk: pk, sk: sk}, nil
}

// Algorithm implements Signer.
func (s *DilithiumSigner) Algorithm() string { return AlgDilithium3 }

// Sign implements Signer.
func (s *DilithiumSigner) Sign(digest []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.sk, digest, sig)
	return sig, nil
}

// Verify implements Signer.
func (s *DilithiumSigner) Verify(digest, signature []byte) bool {
	if len(signature) != mode3.SignatureSize {
		return false
	}
	return mode3.Verify(s.pk, digest, signature)
}

// PublicKey implements Signer.
func (s *DilithiumSigner) PublicKey() []byte {
	return s.pk.Bytes()
}

// ---------------------------------------------------------------------------
// secp256k1 (Ethereum-compatible ECDSA)
// ---------------------------------------------------------------------------

// Secp256k1Signer signs 32-byte digests with an Ethereum private key.
// Signatures are 65 bytes [R || S || V].
type Secp256k1Signer struct {
	key *ecdsa.PrivateKey
}

// NewSecp256k1SignerFromHex parses a hex private key (with or without 0x).
func NewSecp256k1SignerFromHex(keyHex string) (*Secp256k1Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Secp256k1Signer{key: key}, nil
}

// Algorithm implements Signer.
func (s *Secp256k1Signer) Algorithm() string { return AlgSecp256k1 }

// Sign implements Signer. The digest must be 32 bytes.
func (s *Secp256k1Signer) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

// Verify implements Signer.
func (s *Secp256k1Signer) Verify(digest, signature []byte) bool {
	if len(signature) == crypto.SignatureLength {
		signature = signature[:crypto.SignatureLength-1] // drop recovery id
	}
	return crypto.VerifySignature(s.PublicKey(), digest, signature)
}

// PublicKey implements Signer (uncompressed, 65 bytes).
func (s *Secp256k1Signer) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

// Address returns the Ethereum address for the signing key.
func (s *Secp256k1Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}
