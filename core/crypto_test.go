package core

import (
	"bytes"
	"testing"
)

//-------------------------------------------------------------
// Keypair generation & validation
//-------------------------------------------------------------

func TestGenerateKeypairSizes(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(kp.Public.DilithiumPK) != DilithiumPublicKeySize {
		t.Fatalf("dilithium pk %d want %d", len(kp.Public.DilithiumPK), DilithiumPublicKeySize)
	}
	if len(kp.Public.KyberPK) != KyberPublicKeySize {
		t.Fatalf("kyber pk %d want %d", len(kp.Public.KyberPK), KyberPublicKeySize)
	}
	if err := kp.Public.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestKeypairFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, MasterSeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !a.Public.Equal(&b.Public) {
		t.Fatal("same seed produced different public keys")
	}
}

func TestPublicKeyValidateFailClosed(t *testing.T) {
	kp, _ := GenerateKeypair()

	tests := []struct {
		name   string
		mutate func(pk *PublicKey)
	}{
		{"TruncatedDilithium", func(pk *PublicKey) { pk.DilithiumPK = pk.DilithiumPK[:100] }},
		{"TruncatedKyber", func(pk *PublicKey) { pk.KyberPK = pk.KyberPK[:100] }},
		{"ZeroKeyID", func(pk *PublicKey) { pk.KeyID = make([]byte, KeyIDSize) }},
		{"SingleByteDilithium", func(pk *PublicKey) { pk.DilithiumPK = bytes.Repeat([]byte{0xAB}, DilithiumPublicKeySize) }},
		{"SingleByteKyber", func(pk *PublicKey) { pk.KyberPK = bytes.Repeat([]byte{0x01}, KyberPublicKeySize) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pk := PublicKey{
				DilithiumPK: append([]byte(nil), kp.Public.DilithiumPK...),
				KyberPK:     append([]byte(nil), kp.Public.KyberPK...),
				KeyID:       append([]byte(nil), kp.Public.KeyID...),
			}
			tc.mutate(&pk)
			if err := pk.Validate(); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

//-------------------------------------------------------------
// Signatures
//-------------------------------------------------------------

func TestSignVerify(t *testing.T) {
	kp, _ := GenerateKeypair()
	msg := []byte("mesh announcement payload")

	sig, err := Sign(kp.Private.DilithiumSK, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := VerifySignature(kp.Public.DilithiumPK, msg, sig)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	// Tampered message must fail.
	msg[0] ^= 0xFF
	ok, err = VerifySignature(kp.Public.DilithiumPK, msg, sig)
	if err != nil {
		t.Fatalf("verify err: %v", err)
	}
	if ok {
		t.Fatal("tampered message verified")
	}
}

//-------------------------------------------------------------
// KEM
//-------------------------------------------------------------

func TestKyberEncapDecap(t *testing.T) {
	kp, _ := GenerateKeypair()
	ct, shared, err := Encapsulate(kp.Public.KyberPK)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	recovered, err := Decapsulate(kp.Private.KyberSK, ct)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if !bytes.Equal(shared, recovered) {
		t.Fatal("shared secrets differ")
	}
}

//-------------------------------------------------------------
// AEAD
//-------------------------------------------------------------

func TestAESGCMRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	plaintext := []byte("credential template")
	aad := []byte("v1")

	blob, err := EncryptAESGCM(key, plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out, err := DecryptAESGCM(key, blob, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatal("round trip mismatch")
	}

	// Tampering must be terminal.
	blob[len(blob)-1] ^= 1
	if _, err := DecryptAESGCM(key, blob, aad); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestDecryptRejectsLegacyShortBlobs(t *testing.T) {
	key := make([]byte, 32)
	// A legacy XOR-style blob has no nonce or tag; it must be rejected.
	if _, err := DecryptAESGCM(key, []byte{1, 2, 3, 4}, nil); err == nil {
		t.Fatal("short blob accepted")
	}
}

func TestDIDFormat(t *testing.T) {
	kp, _ := GenerateKeypair()
	did := kp.Public.DID()
	if len(did) != len("did:zhtp:")+2*KeyIDSize {
		t.Fatalf("unexpected DID %q", did)
	}
	if did[:9] != "did:zhtp:" {
		t.Fatalf("unexpected DID prefix %q", did[:9])
	}
}
