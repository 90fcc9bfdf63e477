package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/signing"
)

func TestCanonicalForms(t *testing.T) {
	auth := AuthClaim{GroupID: "g1", User: "alice"}
	assert.Equal(t, `{"group_uuid":"g1","user":"alice"}`, string(auth.Canonical()))

	terms := TermsOf(ledger.Terms{
		GroupID:     "g1",
		Lender:      "alice",
		Borrower:    "bob",
		Value:       1000,
		Description: "lunch & \"coffee\"",
		UOMeID:      "u1",
	})
	assert.Equal(t,
		`{"group_uuid":"g1","lender":"alice","borrower":"bob","value":1000,"description":"lunch & \"coffee\"","uome_uuid":"u1"}`,
		string(terms.Canonical()))
}

func TestCanonicalLeavesMarkupAndUnicodeLiteral(t *testing.T) {
	terms := TermsOf(ledger.Terms{
		GroupID:     "g1",
		Lender:      "alice",
		Borrower:    "bob",
		Value:       250,
		Description: "fish & chips <3 > café ☕",
		UOMeID:      "u1",
	})
	want := `{"group_uuid":"g1","lender":"alice","borrower":"bob","value":250,"description":"fish & chips <3 > café ☕","uome_uuid":"u1"}`
	assert.Equal(t, want, string(terms.Canonical()))

	// a client signing the literal bytes is accepted
	alice, err := signing.GenerateSigner()
	require.NoError(t, err)
	stored := ledger.Terms{GroupID: "g1", Lender: alice.Identity(), Borrower: "bob", Value: 250, Description: "fish & chips <3", UOMeID: "u1"}
	literal := `{"group_uuid":"g1","lender":"` + alice.Identity() + `","borrower":"bob","value":250,"description":"fish & chips <3","uome_uuid":"u1"}`
	v := NewVerifier(signing.Ed25519Authenticator{})
	assert.NoError(t, v.VerifyTerms(alice.Identity(), stored, alice.Sign([]byte(literal))))
}

func TestVerifier(t *testing.T) {
	alice, err := signing.GenerateSigner()
	require.NoError(t, err)
	group, err := signing.GenerateSigner()
	require.NoError(t, err)

	v := NewVerifier(signing.Ed25519Authenticator{})

	authSig := alice.Sign(AuthClaim{GroupID: "g1", User: alice.Identity()}.Canonical())
	require.NoError(t, v.VerifyAuth("g1", alice.Identity(), authSig))
	assert.ErrorIs(t, v.VerifyAuth("g2", alice.Identity(), authSig), ErrAuthClaim)

	memberSig := group.Sign(AuthClaim{GroupID: "g1", User: alice.Identity()}.Canonical())
	require.NoError(t, v.VerifyMembership(group.Identity(), "g1", alice.Identity(), memberSig))
	err = v.VerifyMembership(group.Identity(), "g1", alice.Identity(), authSig)
	assert.ErrorIs(t, err, ErrGroupClaim)
	assert.ErrorIs(t, err, signing.ErrInvalidSignature)

	terms := ledger.Terms{GroupID: "g1", Lender: alice.Identity(), Borrower: "bob", Value: 10, Description: "x", UOMeID: "u1"}
	termsSig := alice.Sign(TermsOf(terms).Canonical())
	require.NoError(t, v.VerifyTerms(alice.Identity(), terms, termsSig))

	tampered := terms
	tampered.Value = 11
	assert.ErrorIs(t, v.VerifyTerms(alice.Identity(), tampered, termsSig), ErrTermsClaim)
}
