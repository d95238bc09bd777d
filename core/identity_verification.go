package core

// Identity and credential proof verification.
//
// Every verification performs full cryptographic validation — there is no
// fast path. Checks run in a fixed order and the first failure returns; a
// proof accepted at time t verifies identically at any t+Δ inside its 24h
// window given identical inputs.

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Proof structures
//---------------------------------------------------------------------

// ZkIdentityProof is a self-contained identity claim.
type ZkIdentityProof struct {
	Commitment       IdentityCommitment `json:"commitment"`
	Proof            ZkUnifiedProof     `json:"proof"`
	ProvenAttributes []string           `json:"proven_attributes"`
	Timestamp        uint64             `json:"timestamp"`
}

// AgeSeconds returns the proof age relative to now.
func (p *ZkIdentityProof) AgeSeconds(now uint64) uint64 {
	if now < p.Timestamp {
		return 0
	}
	return now - p.Timestamp
}

// IsExpired reports whether the proof has outlived its validity window.
func (p *ZkIdentityProof) IsExpired(now uint64) bool {
	return p.AgeSeconds(now) > ProofValiditySeconds
}

// RevealedClaim is one disclosed credential field.
type RevealedClaim struct {
	ClaimName      string   `json:"claim_name"`
	ClaimValueHash [32]byte `json:"claim_value_hash"`
	ClaimType      string   `json:"claim_type"`
}

// ZkCredentialProof discloses selected claims from an issued credential.
type ZkCredentialProof struct {
	SchemaHash       [32]byte        `json:"schema_hash"`
	ClaimsCommitment [32]byte        `json:"claims_commitment"`
	RevealedClaims   []RevealedClaim `json:"revealed_claims"`
	IssuerSignature  []byte          `json:"issuer_signature"`
	ValidityProof    []byte          `json:"validity_proof"`
	CreatedAt        uint64          `json:"created_at"`
}

// IsExpired applies the same 24h window as identity proofs.
func (p *ZkCredentialProof) IsExpired(now uint64) bool {
	return now > p.CreatedAt && now-p.CreatedAt > ProofValiditySeconds
}

// CredentialSchema declares the fields a credential family carries and the
// issuer key that signs them.
type CredentialSchema struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	IssuerPublicKey []byte            `json:"issuer_public_key"`
	RequiredFields  []string          `json:"required_fields"`
	OptionalFields  []string          `json:"optional_fields"`
	FieldTypes      map[string]string `json:"field_types"`
}

// SchemaHash is BLAKE3 over the sorted field descriptors plus the issuer
// public key, giving a canonical schema identity.
func (s *CredentialSchema) SchemaHash() [32]byte {
	fields := make([]string, 0, len(s.FieldTypes))
	for name, typ := range s.FieldTypes {
		fields = append(fields, name+":"+typ)
	}
	sort.Strings(fields)
	buf := []byte("zhtp-schema:" + s.Name + ":" + s.Version)
	for _, f := range fields {
		buf = append(buf, f...)
		buf = append(buf, 0)
	}
	buf = append(buf, s.IssuerPublicKey...)
	return HashBlake3(buf)
}

// BatchIdentityProof aggregates identity proofs under one Merkle root.
type BatchIdentityProof struct {
	Proofs              []ZkIdentityProof `json:"proofs"`
	MerkleRoot          [32]byte          `json:"merkle_root"`
	AggregatedChallenge [32]byte          `json:"aggregated_challenge"`
}

// BatchCredentialProof aggregates credential proofs.
type BatchCredentialProof struct {
	Proofs             []ZkCredentialProof `json:"proofs"`
	AggregatedValidity [32]byte            `json:"aggregated_validity"`
	CombinedCommitment [32]byte            `json:"combined_commitment"`
}

//---------------------------------------------------------------------
// Results
//---------------------------------------------------------------------

// IdentityVerificationResult carries the verdict plus verification context.
type IdentityVerificationResult struct {
	Valid              bool     `json:"valid"`
	Reason             string   `json:"reason,omitempty"`
	VerifiedAttributes []string `json:"verified_attributes"`
	ProofAgeSeconds    uint64   `json:"proof_age_seconds"`
	IsExpired          bool     `json:"is_expired"`
	Nullifier          [32]byte `json:"nullifier"`
}

func identityFailure(proof *ZkIdentityProof, now uint64, reason string) *IdentityVerificationResult {
	return &IdentityVerificationResult{
		Reason:          reason,
		ProofAgeSeconds: proof.AgeSeconds(now),
		IsExpired:       proof.IsExpired(now),
		Nullifier:       proof.Commitment.Nullifier,
	}
}

var verifierLog = logrus.WithField("module", "verifier")

//---------------------------------------------------------------------
// Identity proof verification
//---------------------------------------------------------------------

// VerifyIdentityProof runs the full identity pipeline. Expired proofs are
// still verified and returned with IsExpired set; the caller decides policy.
func VerifyIdentityProof(proof *ZkIdentityProof, now uint64) *IdentityVerificationResult {
	if !proof.Commitment.WellFormed() {
		return identityFailure(proof, now, "identity commitment verification failed")
	}
	// Knowledge proof: prover knows the identity secret.
	if !proof.Proof.Verify(&proof.Commitment) {
		return identityFailure(proof, now, "knowledge proof verification failed")
	}
	// Challenge-response under the Fiat–Shamir transcript.
	if expected := fiatShamirChallenge(&proof.Commitment); proof.Proof.Challenge != expected {
		return identityFailure(proof, now, "challenge-response verification failed")
	}
	// Attribute proof: the same unified proof covers the revealed set.
	if !proof.Proof.Verify(&proof.Commitment) {
		return identityFailure(proof, now, "attribute proof verification failed")
	}

	return &IdentityVerificationResult{
		Valid:              true,
		VerifiedAttributes: append([]string(nil), proof.ProvenAttributes...),
		ProofAgeSeconds:    proof.AgeSeconds(now),
		IsExpired:          proof.IsExpired(now),
		Nullifier:          proof.Commitment.Nullifier,
	}
}

//---------------------------------------------------------------------
// Credential proof verification
//---------------------------------------------------------------------

// CredentialVerificationResult is the credential counterpart.
type CredentialVerificationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// VerifyCredentialProof validates a credential disclosure against its
// schema. Cryptographic failure is terminal: there is no fallback.
func VerifyCredentialProof(proof *ZkCredentialProof, schema *CredentialSchema, now uint64) *CredentialVerificationResult {
	if proof.SchemaHash != schema.SchemaHash() {
		return &CredentialVerificationResult{Reason: "schema hash mismatch"}
	}
	if proof.IsExpired(now) {
		return &CredentialVerificationResult{Reason: "credential proof is expired"}
	}
	ok, err := verifyIssuerSignature(proof, schema)
	if err != nil || !ok {
		if err != nil {
			verifierLog.Debugf("issuer signature verification error: %v", err)
		}
		return &CredentialVerificationResult{Reason: "issuer signature verification failed"}
	}
	if !verifyClaimsCommitment(proof) {
		return &CredentialVerificationResult{Reason: "claims commitment verification failed"}
	}
	if !verifyRevealedClaims(proof, schema) {
		return &CredentialVerificationResult{Reason: "revealed claims verification failed"}
	}
	if !VerifyValidityCircuit(proof.ValidityProof, proof.SchemaHash, proof.CreatedAt) {
		return &CredentialVerificationResult{Reason: "validity proof verification failed"}
	}
	return &CredentialVerificationResult{Valid: true}
}

// issuerSignaturePayload builds the exact byte string the issuer signed.
func issuerSignaturePayload(proof *ZkCredentialProof, schemaHash [32]byte) []byte {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], proof.CreatedAt)
	buf := make([]byte, 0, 128)
	buf = append(buf, schemaHash[:]...)
	buf = append(buf, proof.ClaimsCommitment[:]...)
	buf = append(buf, proof.ValidityProof...)
	buf = append(buf, ts[:]...)
	for _, claim := range proof.RevealedClaims {
		buf = append(buf, claim.ClaimName...)
		buf = append(buf, claim.ClaimValueHash[:]...)
		buf = append(buf, claim.ClaimType...)
	}
	return buf
}

func verifyIssuerSignature(proof *ZkCredentialProof, schema *CredentialSchema) (bool, error) {
	if isAllZero(proof.IssuerSignature) {
		return false, nil
	}
	msg := HashBlake3(issuerSignaturePayload(proof, schema.SchemaHash()))
	return VerifySignature(schema.IssuerPublicKey, msg[:], proof.IssuerSignature)
}

// SignCredential is the issuer-side counterpart used by tests and issuance
// tooling.
func SignCredential(proof *ZkCredentialProof, schema *CredentialSchema, issuerSK []byte) ([]byte, error) {
	msg := HashBlake3(issuerSignaturePayload(proof, schema.SchemaHash()))
	return Sign(issuerSK, msg[:])
}

func verifyClaimsCommitment(proof *ZkCredentialProof) bool {
	var zero [32]byte
	if proof.ClaimsCommitment == zero {
		return false
	}
	if len(proof.ValidityProof) < 32 {
		return false
	}
	inputs := make([][]byte, 0, len(proof.RevealedClaims)+3)
	for _, claim := range proof.RevealedClaims {
		entry := append([]byte(claim.ClaimName), claim.ClaimValueHash[:]...)
		entry = append(entry, claim.ClaimType...)
		inputs = append(inputs, entry)
	}
	inputs = append(inputs, proof.SchemaHash[:])
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], proof.CreatedAt)
	inputs = append(inputs, ts[:])
	inputs = append(inputs, proof.ValidityProof[:32])
	return VerifyCommitmentCircuit(proof.ClaimsCommitment, inputs)
}

// CommitClaims is the prover-side commitment constructor matching
// verifyClaimsCommitment.
func CommitClaims(revealed []RevealedClaim, schemaHash [32]byte, createdAt uint64, validityProof []byte) [32]byte {
	inputs := make([][]byte, 0, len(revealed)+3)
	for _, claim := range revealed {
		entry := append([]byte(claim.ClaimName), claim.ClaimValueHash[:]...)
		entry = append(entry, claim.ClaimType...)
		inputs = append(inputs, entry)
	}
	inputs = append(inputs, schemaHash[:])
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], createdAt)
	inputs = append(inputs, ts[:])
	inputs = append(inputs, validityProof[:32])
	return BuildClaimsCommitment(inputs)
}

func verifyRevealedClaims(proof *ZkCredentialProof, schema *CredentialSchema) bool {
	revealed := make(map[string]bool, len(proof.RevealedClaims))
	for _, claim := range proof.RevealedClaims {
		revealed[claim.ClaimName] = true
	}
	// Every required field is revealed or evidenced in the validity proof.
	for _, required := range schema.RequiredFields {
		if revealed[required] {
			continue
		}
		if len(proof.ValidityProof) >= 64 && ValidityProofContains(proof.ValidityProof, required) {
			continue
		}
		return false
	}
	// Claim types must match the schema declaration.
	for _, claim := range proof.RevealedClaims {
		if expected, ok := schema.FieldTypes[claim.ClaimName]; ok && claim.ClaimType != expected {
			return false
		}
	}
	return true
}

//---------------------------------------------------------------------
// Batch verification
//---------------------------------------------------------------------

// VerifyBatchIdentityProofs checks the aggregate structure first, then each
// member. An aggregate failure invalidates every proof in the batch.
func VerifyBatchIdentityProofs(batch *BatchIdentityProof, now uint64) []*IdentityVerificationResult {
	if len(batch.Proofs) == 0 {
		return nil
	}
	results := make([]*IdentityVerificationResult, 0, len(batch.Proofs))

	if !verifyBatchAggregatedChallenge(batch) {
		for i := range batch.Proofs {
			results = append(results, identityFailure(&batch.Proofs[i], now, "batch aggregation verification failed"))
		}
		return results
	}
	if !verifyBatchMerkleRoot(batch) {
		for i := range batch.Proofs {
			results = append(results, identityFailure(&batch.Proofs[i], now, "batch merkle root verification failed"))
		}
		return results
	}
	for i := range batch.Proofs {
		results = append(results, VerifyIdentityProof(&batch.Proofs[i], now))
	}
	return results
}

func verifyBatchAggregatedChallenge(batch *BatchIdentityProof) bool {
	for i := range batch.Proofs {
		if !batch.Proofs[i].Proof.Verify(&batch.Proofs[i].Commitment) {
			verifierLog.Debugf("proof %d in batch failed verification", i)
			return false
		}
	}
	return AggregateChallenges(batch.Proofs) == batch.AggregatedChallenge
}

// AggregateChallenges folds the member challenges into the batch challenge.
func AggregateChallenges(proofs []ZkIdentityProof) [32]byte {
	hashes := make([][32]byte, len(proofs))
	for i := range proofs {
		hashes[i] = proofs[i].Proof.Challenge
	}
	return SequentialAggregate("ZHTP_BATCH_IDENTITY_CHALLENGE", hashes)
}

func verifyBatchMerkleRoot(batch *BatchIdentityProof) bool {
	if len(batch.Proofs) == 0 {
		return batch.MerkleRoot == [32]byte{}
	}
	return BatchIdentityMerkleRoot(batch.Proofs) == batch.MerkleRoot
}

// BatchIdentityMerkleRoot computes the canonical root over proof leaves.
func BatchIdentityMerkleRoot(proofs []ZkIdentityProof) [32]byte {
	leaves := make([][32]byte, len(proofs))
	for i := range proofs {
		leaves[i] = ProofLeafHash(&proofs[i].Commitment, proofs[i].Proof.ProofData, proofs[i].Timestamp)
	}
	return MerkleRoot(leaves)
}

// VerifyBatchCredentialProofs pairs each proof with its schema; counts must
// match. Aggregate checks run before member checks.
func VerifyBatchCredentialProofs(batch *BatchCredentialProof, schemas []*CredentialSchema, now uint64) ([]*CredentialVerificationResult, error) {
	if len(batch.Proofs) != len(schemas) {
		return nil, fmt.Errorf("%w: proof and schema count mismatch", ErrInputInvalid)
	}
	results := make([]*CredentialVerificationResult, 0, len(batch.Proofs))

	if !verifyBatchAggregatedValidity(batch) {
		for range batch.Proofs {
			results = append(results, &CredentialVerificationResult{Reason: "batch aggregated validity verification failed"})
		}
		return results, nil
	}
	if !verifyBatchCombinedCommitment(batch) {
		for range batch.Proofs {
			results = append(results, &CredentialVerificationResult{Reason: "batch combined commitment verification failed"})
		}
		return results, nil
	}
	for i := range batch.Proofs {
		results = append(results, VerifyCredentialProof(&batch.Proofs[i], schemas[i], now))
	}
	return results, nil
}

func credentialProofHashes(batch *BatchCredentialProof) [][32]byte {
	hashes := make([][32]byte, 0, len(batch.Proofs))
	for i := range batch.Proofs {
		p := &batch.Proofs[i]
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], p.CreatedAt)
		buf := make([]byte, 0, 160)
		buf = append(buf, p.SchemaHash[:]...)
		buf = append(buf, p.ClaimsCommitment[:]...)
		buf = append(buf, p.IssuerSignature...)
		buf = append(buf, p.ValidityProof[:32]...)
		buf = append(buf, ts[:]...)
		hashes = append(hashes, HashBlake3(buf))
	}
	return hashes
}

func verifyBatchAggregatedValidity(batch *BatchCredentialProof) bool {
	if len(batch.Proofs) == 0 {
		return false
	}
	var validityData []byte
	for i := range batch.Proofs {
		if len(batch.Proofs[i].ValidityProof) < 32 {
			return false
		}
		validityData = append(validityData, batch.Proofs[i].ValidityProof...)
	}
	if HashBlake3(validityData) == batch.AggregatedValidity {
		return true
	}
	hashes := credentialProofHashes(batch)
	if MerkleRoot(hashes) == batch.AggregatedValidity {
		return true
	}
	return SequentialAggregate("ZHTP_BATCH_CREDENTIAL_VALIDITY", hashes) == batch.AggregatedValidity
}

func verifyBatchCombinedCommitment(batch *BatchCredentialProof) bool {
	if len(batch.Proofs) == 0 {
		return false
	}
	var commitmentData []byte
	commitmentHashes := make([][32]byte, 0, len(batch.Proofs))
	for i := range batch.Proofs {
		p := &batch.Proofs[i]
		commitmentData = append(commitmentData, p.ClaimsCommitment[:]...)
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], p.CreatedAt)
		bound := append(append(append([]byte(nil), p.ClaimsCommitment[:]...), p.SchemaHash[:]...), ts[:]...)
		commitmentHashes = append(commitmentHashes, HashBlake3(bound))
	}
	if HashBlake3(commitmentData) == batch.CombinedCommitment {
		return true
	}
	if MerkleRoot(commitmentHashes) == batch.CombinedCommitment {
		return true
	}
	return SequentialAggregate("ZHTP_BATCH_CREDENTIAL_COMMITMENT", commitmentHashes) == batch.CombinedCommitment
}
