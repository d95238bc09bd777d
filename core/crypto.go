package core

// Shared cryptographic primitives for the ZHTP stack.
//
// Exposes:
//   - Keypair          – composite post-quantum identity (Dilithium2 + Kyber768).
//   - Sign / VerifySignature – Dilithium2 signatures.
//   - Encapsulate / Decapsulate – Kyber768 KEM for session keys.
//   - EncryptAESGCM / DecryptAESGCM – AES-256-GCM authenticated encryption.
//   - HashBlake3       – BLAKE3-256, the canonical hash of the protocol.
//
// All crypto comes from cloudflare/circl and lukechampine.com/blake3; nothing
// here rolls its own primitives.

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	mode2 "github.com/cloudflare/circl/sign/dilithium/mode2"
	"lukechampine.com/blake3"
)

//---------------------------------------------------------------------
// Sizes & constants
//---------------------------------------------------------------------

const (
	// DilithiumPublicKeySize is the packed Dilithium2 public key length.
	DilithiumPublicKeySize = mode2.PublicKeySize // 1312
	// KyberPublicKeySize is the packed Kyber768 public key length.
	KyberPublicKeySize = kyber768.PublicKeySize // 1184
	// KeyIDSize is the length of the derived key identifier.
	KeyIDSize = 32
	// SignatureSize is the packed Dilithium2 signature length.
	SignatureSize = mode2.SignatureSize
	// MasterSeedSize is the entropy a keypair is derived from.
	MasterSeedSize = 32

	gcmNonceSize = 12
	gcmKeySize   = 32
)

var (
	ErrCryptoFail   = errors.New("cryptographic verification failed")
	ErrInputInvalid = errors.New("invalid input")
)

//---------------------------------------------------------------------
// Hashing
//---------------------------------------------------------------------

// HashBlake3 returns the BLAKE3-256 digest of data.
func HashBlake3(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// StorageKey derives the flat keyspace key for a namespaced identifier:
// BLAKE3(namespace ∥ id). Namespace separation is purely by prefix.
func StorageKey(namespace string, id []byte) []byte {
	h := HashBlake3(append([]byte(namespace), id...))
	return h[:]
}

//---------------------------------------------------------------------
// Composite post-quantum keys
//---------------------------------------------------------------------

// PublicKey is the composite post-quantum public identity: a Dilithium2
// signing key, a Kyber768 encapsulation key and a derived 32-byte key id.
type PublicKey struct {
	DilithiumPK []byte `json:"dilithium_pk"`
	KyberPK     []byte `json:"kyber_pk"`
	KeyID       []byte `json:"key_id"`
}

// PrivateKey holds the secret material. It never leaves the owning process
// unsealed; MasterSeed alone is sufficient to re-derive both secret keys.
type PrivateKey struct {
	MasterSeed  []byte `json:"master_seed"`
	DilithiumSK []byte `json:"dilithium_sk"`
	KyberSK     []byte `json:"kyber_sk"`
}

// Keypair couples a public identity with its secrets.
type Keypair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeypair creates a fresh composite keypair from system entropy.
func GenerateKeypair() (*Keypair, error) {
	seed := make([]byte, MasterSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return KeypairFromSeed(seed)
}

// KeypairFromSeed deterministically derives the full keypair from a master
// seed. Deserialized private keys are re-derived through this path so the
// algorithm-specific secrets never need to round-trip through storage.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != MasterSeedSize {
		return nil, fmt.Errorf("%w: master seed must be %d bytes", ErrInputInvalid, MasterSeedSize)
	}

	var dseed [mode2.SeedSize]byte
	d := HashBlake3(append([]byte("zhtp-dilithium"), seed...))
	copy(dseed[:], d[:])
	dpk, dsk := mode2.NewKeyFromSeed(&dseed)

	scheme := kyber768.Scheme()
	kseed := blake3.Sum512(append([]byte("zhtp-kyber"), seed...))
	kpk, ksk := scheme.DeriveKeyPair(kseed[:scheme.SeedSize()])

	kpkBytes, err := kpk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	kskBytes, err := ksk.MarshalBinary()
	if err != nil {
		return nil, err
	}

	pub := PublicKey{
		DilithiumPK: dpk.Bytes(),
		KyberPK:     kpkBytes,
	}
	pub.KeyID = deriveKeyID(pub.DilithiumPK, pub.KyberPK)

	return &Keypair{
		Public: pub,
		Private: PrivateKey{
			MasterSeed:  append([]byte(nil), seed...),
			DilithiumSK: dsk.Bytes(),
			KyberSK:     kskBytes,
		},
	}, nil
}

func deriveKeyID(dilithiumPK, kyberPK []byte) []byte {
	h := HashBlake3(append(append([]byte("zhtp-key-id"), dilithiumPK...), kyberPK...))
	return h[:]
}

// Validate checks the structural well-formedness of a public key: exact
// component sizes, a non-zero key id, and no single-repeated-byte key
// material. Fails closed on any violation.
func (pk *PublicKey) Validate() error {
	if len(pk.DilithiumPK) != DilithiumPublicKeySize {
		return fmt.Errorf("%w: dilithium key is %d bytes, want %d", ErrInputInvalid, len(pk.DilithiumPK), DilithiumPublicKeySize)
	}
	if len(pk.KyberPK) != KyberPublicKeySize {
		return fmt.Errorf("%w: kyber key is %d bytes, want %d", ErrInputInvalid, len(pk.KyberPK), KyberPublicKeySize)
	}
	if len(pk.KeyID) != KeyIDSize {
		return fmt.Errorf("%w: key id is %d bytes, want %d", ErrInputInvalid, len(pk.KeyID), KeyIDSize)
	}
	if isAllZero(pk.KeyID) {
		return fmt.Errorf("%w: key id is all zero", ErrInputInvalid)
	}
	if isSingleByte(pk.DilithiumPK) || isSingleByte(pk.KyberPK) {
		return fmt.Errorf("%w: key material has no entropy", ErrInputInvalid)
	}
	return nil
}

// Equal reports whether two public keys are byte-identical.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(pk.KeyID, other.KeyID) &&
		bytes.Equal(pk.DilithiumPK, other.DilithiumPK) &&
		bytes.Equal(pk.KyberPK, other.KyberPK)
}

// DID renders the decentralized identifier bound to this key.
func (pk *PublicKey) DID() string {
	return "did:zhtp:" + hex.EncodeToString(pk.KeyID)
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func isSingleByte(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	first := b[0]
	for _, v := range b[1:] {
		if v != first {
			return false
		}
	}
	return true
}

//---------------------------------------------------------------------
// Signatures – Dilithium2
//---------------------------------------------------------------------

// Sign signs msg with a packed Dilithium2 private key.
func Sign(dilithiumSK, msg []byte) ([]byte, error) {
	var sk mode2.PrivateKey
	if err := sk.UnmarshalBinary(dilithiumSK); err != nil {
		return nil, err
	}
	return sk.Sign(rand.Reader, msg, crypto.Hash(0))
}

// VerifySignature verifies a Dilithium2 signature against a packed public key.
func VerifySignature(dilithiumPK, msg, sig []byte) (bool, error) {
	var pk mode2.PublicKey
	if err := pk.UnmarshalBinary(dilithiumPK); err != nil {
		return false, err
	}
	return mode2.Verify(&pk, msg, sig), nil
}

//---------------------------------------------------------------------
// KEM – Kyber768
//---------------------------------------------------------------------

// Encapsulate generates a shared secret for the holder of kyberPK and the
// ciphertext that transports it.
func Encapsulate(kyberPK []byte) (ciphertext, sharedSecret []byte, err error) {
	scheme := kyber768.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(kyberPK)
	if err != nil {
		return nil, nil, err
	}
	return scheme.Encapsulate(pk)
}

// Decapsulate recovers the shared secret from a Kyber768 ciphertext.
func Decapsulate(kyberSK, ciphertext []byte) ([]byte, error) {
	scheme := kyber768.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(kyberSK)
	if err != nil {
		return nil, err
	}
	return scheme.Decapsulate(sk, ciphertext)
}

var _ kem.Scheme = kyber768.Scheme()

//---------------------------------------------------------------------
// Encryption – AES-256-GCM
//---------------------------------------------------------------------

// EncryptAESGCM returns nonce || ciphertext || tag using AES-256-GCM with a
// 12-byte random nonce.
func EncryptAESGCM(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != gcmKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInputInvalid, gcmKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// DecryptAESGCM verifies and opens a blob produced by EncryptAESGCM. Legacy
// XOR-obfuscated blobs (shorter than nonce+tag) are rejected on sight.
func DecryptAESGCM(key, blob, aad []byte) ([]byte, error) {
	if len(key) != gcmKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInputInvalid, gcmKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcmNonceSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCryptoFail)
	}
	nonce, ciphertext := blob[:gcmNonceSize], blob[gcmNonceSize:]
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFail, err)
	}
	return pt, nil
}
