package model

import "time"

// LinkCodeTTL is how long an issued link code stays redeemable.
const LinkCodeTTL = 5 * time.Minute

// LinkCode is a short-lived six digit credential that lets a second client
// adopt an account's scope without logging in.  Only one live code exists
// per account; issuing a new one deletes the previous row.
//
// Fields:
//  Code      – link_codes.code, six decimal digits.
//  AccountID – account the code binds to.
//  ExpiresAt – issue time + LinkCodeTTL.
//  CreatedAt – issue time.
type LinkCode struct {
	Code      string    `json:"code"`
	AccountID string    `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the code is past its window at now.
func (l LinkCode) Expired(now time.Time) bool { return l.ExpiresAt.Before(now) }

// Verification error codes carried in LinkVerification.Error.
const (
	LinkErrInvalid  = "invalid_code"
	LinkErrNotFound = "not_found"
	LinkErrExpired  = "expired"
)

// LinkVerification is the result of redeeming a link code.  Token is a
// bearer token for AccountID, present only when Valid is true.
type LinkVerification struct {
	Valid     bool   `json:"valid"`
	AccountID string `json:"accountId,omitempty"`
	Token     string `json:"token,omitempty"`
	Error     string `json:"error,omitempty"`
}
