package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testNow = uint64(1_700_000_000)

func makeIdentityProof(t *testing.T, attrs map[string]string, proven []string, timestamp uint64) *ZkIdentityProof {
	t.Helper()
	secret := [32]byte{0x11, 0x22}
	keyID := [32]byte{0x33}
	commitment := GenerateIdentityCommitment(attrs, secret, keyID)
	proof := GenerateUnifiedProof(&commitment, secret)
	return &ZkIdentityProof{
		Commitment:       commitment,
		Proof:            proof,
		ProvenAttributes: proven,
		Timestamp:        timestamp,
	}
}

//-------------------------------------------------------------
// Identity proofs
//-------------------------------------------------------------

func TestVerifyIdentityProof(t *testing.T) {
	proof := makeIdentityProof(t, map[string]string{"age_range": "25-35"}, []string{"age_range"}, testNow)

	result := VerifyIdentityProof(proof, testNow+60)
	require.True(t, result.Valid, result.Reason)
	require.False(t, result.IsExpired)
	require.Equal(t, []string{"age_range"}, result.VerifiedAttributes)
	require.Equal(t, proof.Commitment.Nullifier, result.Nullifier)
}

func TestVerifyIdentityProofFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ZkIdentityProof)
		reason string
	}{
		{"ZeroCommitment", func(p *ZkIdentityProof) { p.Commitment.Nullifier = [32]byte{} }, "identity commitment verification failed"},
		{"BadProofData", func(p *ZkIdentityProof) { p.Proof.ProofData[0] ^= 1 }, "knowledge proof verification failed"},
		{"BadChallenge", func(p *ZkIdentityProof) { p.Proof.Challenge[0] ^= 1 }, "knowledge proof verification failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			proof := makeIdentityProof(t, map[string]string{"kyc": "2"}, []string{"kyc"}, testNow)
			tc.mutate(proof)
			result := VerifyIdentityProof(proof, testNow)
			require.False(t, result.Valid)
			require.Equal(t, tc.reason, result.Reason)
		})
	}
}

func TestExpiredProofStillVerifies(t *testing.T) {
	// Two days old: verification passes with is_expired flagged.
	proof := makeIdentityProof(t, map[string]string{"license": "driver"}, []string{"license"}, testNow-2*24*3600)
	result := VerifyIdentityProof(proof, testNow)
	require.True(t, result.Valid)
	require.True(t, result.IsExpired)
	require.GreaterOrEqual(t, result.ProofAgeSeconds, uint64(2*24*3600))
}

func TestVerificationDeterministicWithinWindow(t *testing.T) {
	proof := makeIdentityProof(t, map[string]string{"kyc": "3"}, []string{"kyc"}, testNow)
	early := VerifyIdentityProof(proof, testNow+1)
	late := VerifyIdentityProof(proof, testNow+23*3600)
	require.Equal(t, early.Valid, late.Valid)
	require.Equal(t, early.VerifiedAttributes, late.VerifiedAttributes)
}

//-------------------------------------------------------------
// Credential proofs
//-------------------------------------------------------------

func educationSchema(t *testing.T, issuer *Keypair) *CredentialSchema {
	t.Helper()
	return &CredentialSchema{
		Name:            "education_credential",
		Version:         "1.0",
		IssuerPublicKey: issuer.Public.DilithiumPK,
		RequiredFields:  []string{"degree", "institution", "graduation_year"},
		OptionalFields:  []string{"gpa"},
		FieldTypes: map[string]string{
			"degree":          "string",
			"institution":     "string",
			"graduation_year": "integer",
			"gpa":             "float",
		},
	}
}

func makeCredentialProof(t *testing.T, issuer *Keypair, schema *CredentialSchema) *ZkCredentialProof {
	t.Helper()
	createdAt := testNow
	revealed := []RevealedClaim{
		{ClaimName: "degree", ClaimValueHash: HashBlake3([]byte("Bachelor")), ClaimType: "string"},
		{ClaimName: "institution", ClaimValueHash: HashBlake3([]byte("University")), ClaimType: "string"},
	}
	schemaHash := schema.SchemaHash()
	validity := BuildValidityProof(schemaHash, createdAt, []string{"graduation_year"})
	proof := &ZkCredentialProof{
		SchemaHash:       schemaHash,
		RevealedClaims:   revealed,
		ValidityProof:    validity,
		CreatedAt:        createdAt,
		ClaimsCommitment: CommitClaims(revealed, schemaHash, createdAt, validity),
	}
	sig, err := SignCredential(proof, schema, issuer.Private.DilithiumSK)
	require.NoError(t, err)
	proof.IssuerSignature = sig
	return proof
}

func TestVerifyCredentialProof(t *testing.T) {
	issuer, err := GenerateKeypair()
	require.NoError(t, err)
	schema := educationSchema(t, issuer)
	proof := makeCredentialProof(t, issuer, schema)

	result := VerifyCredentialProof(proof, schema, testNow+60)
	require.True(t, result.Valid, result.Reason)
}

func TestCredentialSchemaMismatch(t *testing.T) {
	issuer, _ := GenerateKeypair()
	schema := educationSchema(t, issuer)
	proof := makeCredentialProof(t, issuer, schema)

	other := &CredentialSchema{
		Name:            "test_credential",
		Version:         "1.0",
		IssuerPublicKey: issuer.Public.DilithiumPK,
		RequiredFields:  []string{"name"},
		FieldTypes:      map[string]string{"name": "string"},
	}
	result := VerifyCredentialProof(proof, other, testNow)
	require.False(t, result.Valid)
	require.Equal(t, "schema hash mismatch", result.Reason)
}

func TestCredentialIssuerSignatureEnforced(t *testing.T) {
	issuer, _ := GenerateKeypair()
	schema := educationSchema(t, issuer)
	proof := makeCredentialProof(t, issuer, schema)

	// Zero signature: rejected outright, no fallback.
	proof.IssuerSignature = make([]byte, SignatureSize)
	result := VerifyCredentialProof(proof, schema, testNow)
	require.False(t, result.Valid)
	require.Equal(t, "issuer signature verification failed", result.Reason)

	// Signature from a different issuer: also rejected.
	impostor, _ := GenerateKeypair()
	sig, err := SignCredential(proof, schema, impostor.Private.DilithiumSK)
	require.NoError(t, err)
	proof.IssuerSignature = sig
	result = VerifyCredentialProof(proof, schema, testNow)
	require.False(t, result.Valid)
}

func TestCredentialRequiredFieldViaValidityProof(t *testing.T) {
	issuer, _ := GenerateKeypair()
	schema := educationSchema(t, issuer)
	proof := makeCredentialProof(t, issuer, schema)

	// graduation_year is hidden but evidenced in the validity proof.
	result := VerifyCredentialProof(proof, schema, testNow)
	require.True(t, result.Valid, result.Reason)

	// A required field neither revealed nor evidenced fails.
	schema2 := educationSchema(t, issuer)
	schema2.RequiredFields = append(schema2.RequiredFields, "enrollment_id")
	schema2.FieldTypes["enrollment_id"] = "string"
	proof2 := makeCredentialProof(t, issuer, schema2)
	// Rebuild without evidence for enrollment_id.
	proof2.ValidityProof = BuildValidityProof(schema2.SchemaHash(), proof2.CreatedAt, []string{"graduation_year"})
	proof2.ClaimsCommitment = CommitClaims(proof2.RevealedClaims, schema2.SchemaHash(), proof2.CreatedAt, proof2.ValidityProof)
	sig, _ := SignCredential(proof2, schema2, issuer.Private.DilithiumSK)
	proof2.IssuerSignature = sig

	result = VerifyCredentialProof(proof2, schema2, testNow)
	require.False(t, result.Valid)
	require.Equal(t, "revealed claims verification failed", result.Reason)
}

func TestCredentialClaimTypeMismatch(t *testing.T) {
	issuer, _ := GenerateKeypair()
	schema := educationSchema(t, issuer)
	proof := makeCredentialProof(t, issuer, schema)

	proof.RevealedClaims[0].ClaimType = "integer"
	proof.ClaimsCommitment = CommitClaims(proof.RevealedClaims, proof.SchemaHash, proof.CreatedAt, proof.ValidityProof)
	sig, _ := SignCredential(proof, schema, issuer.Private.DilithiumSK)
	proof.IssuerSignature = sig

	result := VerifyCredentialProof(proof, schema, testNow)
	require.False(t, result.Valid)
	require.Equal(t, "revealed claims verification failed", result.Reason)
}

//-------------------------------------------------------------
// Batch verification
//-------------------------------------------------------------

func makeBatch(t *testing.T, n int) *BatchIdentityProof {
	t.Helper()
	proofs := make([]ZkIdentityProof, 0, n)
	for i := 0; i < n; i++ {
		secret := [32]byte{byte(i + 1)}
		keyID := [32]byte{byte(i + 100)}
		commitment := GenerateIdentityCommitment(map[string]string{"idx": string(rune('a' + i))}, secret, keyID)
		proofs = append(proofs, ZkIdentityProof{
			Commitment:       commitment,
			Proof:            GenerateUnifiedProof(&commitment, secret),
			ProvenAttributes: []string{"idx"},
			Timestamp:        testNow,
		})
	}
	return &BatchIdentityProof{
		Proofs:              proofs,
		MerkleRoot:          BatchIdentityMerkleRoot(proofs),
		AggregatedChallenge: AggregateChallenges(proofs),
	}
}

func TestBatchIdentityVerification(t *testing.T) {
	batch := makeBatch(t, 3)
	results := VerifyBatchIdentityProofs(batch, testNow)
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.Valid, r.Reason)
	}
}

func TestBatchMerkleMismatchPoisonsAll(t *testing.T) {
	batch := makeBatch(t, 3)
	batch.MerkleRoot[0] ^= 1
	results := VerifyBatchIdentityProofs(batch, testNow)
	require.Len(t, results, 3)
	for _, r := range results {
		require.False(t, r.Valid)
		require.Equal(t, "batch merkle root verification failed", r.Reason)
	}
}

func TestBatchMemberFailurePoisonsAggregate(t *testing.T) {
	batch := makeBatch(t, 3)
	batch.Proofs[1].Proof.ProofData[0] ^= 1
	// Member failure trips the aggregated-challenge stage first.
	results := VerifyBatchIdentityProofs(batch, testNow)
	for _, r := range results {
		require.False(t, r.Valid)
	}
}

func TestBatchCredentialVerification(t *testing.T) {
	issuer, _ := GenerateKeypair()
	schema := educationSchema(t, issuer)
	p1 := makeCredentialProof(t, issuer, schema)
	p2 := makeCredentialProof(t, issuer, schema)

	hashes := credentialProofHashes(&BatchCredentialProof{Proofs: []ZkCredentialProof{*p1, *p2}})
	batch := &BatchCredentialProof{
		Proofs:             []ZkCredentialProof{*p1, *p2},
		AggregatedValidity: SequentialAggregate("ZHTP_BATCH_CREDENTIAL_VALIDITY", hashes),
	}
	var commitmentData []byte
	commitmentData = append(commitmentData, p1.ClaimsCommitment[:]...)
	commitmentData = append(commitmentData, p2.ClaimsCommitment[:]...)
	batch.CombinedCommitment = HashBlake3(commitmentData)

	results, err := VerifyBatchCredentialProofs(batch, []*CredentialSchema{schema, schema}, testNow)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, r.Valid, r.Reason)
	}

	// Count mismatch is an error, not a per-proof failure.
	_, err = VerifyBatchCredentialProofs(batch, []*CredentialSchema{schema}, testNow)
	require.Error(t, err)
}
