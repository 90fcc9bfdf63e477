// Package protocol defines the canonical payloads that members sign and
// checks those signatures against ledger records.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/signing"
)

var (
	// ErrAuthClaim means the caller did not sign its {group, user} claim.
	ErrAuthClaim = errors.New("user signature does not match auth claim")
	// ErrTermsClaim means the signature does not cover the stored terms.
	ErrTermsClaim = errors.New("signature does not match uome terms")
	// ErrGroupClaim means the group key did not admit the user.
	ErrGroupClaim = errors.New("group signature does not match membership claim")
)

// AuthClaim proves that User speaks for itself inside GroupID.
type AuthClaim struct {
	GroupID string `json:"group_uuid"`
	User    string `json:"user"`
}

// Canonical returns the exact bytes that are signed.
func (c AuthClaim) Canonical() []byte { return mustMarshal(c) }

// TermsClaim is what the lender signs on confirm and the borrower signs on
// accept. Field order is fixed by the struct.
type TermsClaim struct {
	GroupID     string `json:"group_uuid"`
	Lender      string `json:"lender"`
	Borrower    string `json:"borrower"`
	Value       int64  `json:"value"`
	Description string `json:"description"`
	UOMeID      string `json:"uome_uuid"`
}

// TermsOf builds the claim for a stored record.
func TermsOf(t ledger.Terms) TermsClaim {
	return TermsClaim{
		GroupID:     t.GroupID,
		Lender:      t.Lender,
		Borrower:    t.Borrower,
		Value:       t.Value,
		Description: t.Description,
		UOMeID:      t.UOMeID,
	}
}

// Canonical returns the exact bytes that are signed.
func (c TermsClaim) Canonical() []byte { return mustMarshal(c) }

// mustMarshal writes compact JSON with <, > and & left unescaped and no
// trailing newline.
func mustMarshal(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// flat structs of strings and ints cannot fail to encode
	if err := enc.Encode(v); err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Verifier checks inner signatures through an Authenticator.
type Verifier struct {
	auth signing.Authenticator
}

// NewVerifier wires an Authenticator into a Verifier.
func NewVerifier(auth signing.Authenticator) *Verifier {
	return &Verifier{auth: auth}
}

// VerifyAuth checks that user signed {groupID, user}.
func (v *Verifier) VerifyAuth(groupID, user, signature string) error {
	claim := AuthClaim{GroupID: groupID, User: user}
	if err := v.auth.Verify(user, signature, claim.Canonical()); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthClaim, err)
	}
	return nil
}

// VerifyMembership checks that groupKey signed {groupID, user}.
func (v *Verifier) VerifyMembership(groupKey, groupID, user, signature string) error {
	claim := AuthClaim{GroupID: groupID, User: user}
	if err := v.auth.Verify(groupKey, signature, claim.Canonical()); err != nil {
		return fmt.Errorf("%w: %w", ErrGroupClaim, err)
	}
	return nil
}

// VerifyTerms checks that signer signed the terms of the stored record.
func (v *Verifier) VerifyTerms(signer string, terms ledger.Terms, signature string) error {
	if err := v.auth.Verify(signer, signature, TermsOf(terms).Canonical()); err != nil {
		return fmt.Errorf("%w: %w", ErrTermsClaim, err)
	}
	return nil
}
