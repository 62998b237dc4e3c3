// Package session implements the composite-key session store (C2):
// cross-turn conversational state keyed by (MSISDN, session id, shortcode),
// plus the auxiliary slot values actions modules stash transient workflow
// state in.
package session

import "time"

// AuthStatus mirrors the two states a session's login can be in.
type AuthStatus string

const (
	AuthPending       AuthStatus = "pending"
	AuthAuthenticated AuthStatus = "authenticated"
)

// CustomerData is populated once the initial GETCUSTOMER lookup succeeds.
// It is absent (nil) before that.
type CustomerData struct {
	CustomerID string   `json:"customerId"`
	FirstName  string   `json:"firstName,omitempty"`
	LastName   string   `json:"lastName,omitempty"`
	Language   string   `json:"language,omitempty"`
	Accounts   []string `json:"accounts,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
	IDNumber   string   `json:"idNumber,omitempty"`
	Email      string   `json:"email,omitempty"`
}

// Session is the central entity of the gateway, the record persisted under
// the composite key "{prefix}:{msisdn}:{sessionId}:{shortcode|default}".
type Session struct {
	MSISDN           string        `json:"msisdn"`
	SessionID        string        `json:"sessionId"`
	Shortcode        string        `json:"shortcode"`
	CurrentMenu      string        `json:"currentMenu"`
	MenuHistory      []string      `json:"menuHistory"`
	CustomerData     *CustomerData `json:"customerData,omitempty"`
	AuthStatus       AuthStatus    `json:"authStatus"`
	TransactionCount int           `json:"transactionCount"`
	SessionStart     time.Time     `json:"sessionStart"`
	LastActivity     time.Time     `json:"lastActivity"`
	SessionEnd       *time.Time    `json:"sessionEnd,omitempty"`
	CreatedAtMillis  int64         `json:"createdAtMillis"`
	LastTransaction  *time.Time    `json:"lastTransaction,omitempty"`
}

// NormalizeShortcode applies the "shortcode|default" rule used throughout
// key construction.
func NormalizeShortcode(shortcode string) string {
	if shortcode == "" {
		return "default"
	}
	return shortcode
}
