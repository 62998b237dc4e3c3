// Package upstream implements the colon-tuple wire codec (C3) and the
// single-call RPC client (C4) that talk to the core-banking backend.
package upstream

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vservices/ussd-gateway/internal/session"
)

// Config carries the bank/channel identifiers every outbound request
// needs, populated from environment configuration.
type Config struct {
	BankID    string
	BankName  string
	Country   string
	TrxSource string
}

// DeviceID is defined as msisdn + shortcode.
func DeviceID(msisdn, shortcode string) string {
	return msisdn + shortcode
}

// NewUniqueID mints a fresh 128-bit identifier formatted as a hyphenated
// hex string, i.e. a UUID.
func NewUniqueID() string {
	return uuid.New().String()
}

// ParseTuples splits a flat "KEY:VALUE:KEY:VALUE:..." string into a map,
// dropping any dangling trailing key with no value.
func ParseTuples(s string) map[string]string {
	parts := strings.Split(s, ":")
	out := map[string]string{}
	for i := 0; i+1 < len(parts); i += 2 {
		key := parts[i]
		if key == "" {
			continue
		}
		out[key] = parts[i+1]
	}
	return out
}

// Encode renders base and extra (an already-tupled "KEY:VALUE:..." string)
// into one flat colon-tuple request string. extra wins over base on key
// collision; empty values are dropped entirely. Keys are emitted in sorted
// order so the same logical request always produces the same wire string.
func Encode(base map[string]string, extra string) string {
	values := map[string]string{}
	for k, v := range base {
		if v != "" {
			values[k] = v
		}
	}
	for k, v := range ParseTuples(extra) {
		if v != "" {
			values[k] = v
		} else {
			delete(values, k)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(values[k])
		sb.WriteString(":")
	}
	return sb.String()
}

// BuildBaseFields assembles the session/config-derived base keys for an
// outbound request: FORMID, MOBILENUMBER, SESSION, BANKID, BANKNAME,
// SHORTCODE, COUNTRY, TRXSOURCE, DEVICEID, UNIQUEID, plus CUSTOMERID and
// BANKACCOUNTS once the customer is known.
func BuildBaseFields(cfg Config, sess *session.Session, formID string) map[string]string {
	fields := map[string]string{
		"FORMID":       formID,
		"MOBILENUMBER": sess.MSISDN,
		"SESSION":      sess.SessionID,
		"BANKID":       cfg.BankID,
		"BANKNAME":     cfg.BankName,
		"SHORTCODE":    sess.Shortcode,
		"COUNTRY":      cfg.Country,
		"TRXSOURCE":    cfg.TrxSource,
		"DEVICEID":     DeviceID(sess.MSISDN, sess.Shortcode),
		"UNIQUEID":     NewUniqueID(),
	}
	if sess.CustomerData != nil && sess.CustomerData.CustomerID != "" {
		fields["CUSTOMERID"] = sess.CustomerData.CustomerID
		fields["BANKACCOUNTS"] = strings.Join(sess.CustomerData.Accounts, ",")
	}
	return fields
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

// StripTags removes any tag-like "<...>" wrappers from an inbound response
// before it is tuple-parsed.
func StripTags(s string) string {
	return tagRegex.ReplaceAllString(s, "")
}

// Envelope is the normalised result of one upstream call.
type Envelope struct {
	Success bool
	Status  string
	Code    string
	Data    string
	Raw     string
	Message string
	Error   string
	Retry   bool
	// Fields carries every key/value tuple the response decoded to, so
	// callers needing a field the envelope doesn't name explicitly (e.g.
	// ACCOUNTS on a LOGIN response) can still reach it.
	Fields map[string]string
}

var successStatuses = map[string]bool{
	"000": true, "00": true, "0": true, "OK": true, "SUCCESS": true,
}

var failureMessages = map[string]string{
	"091": "Invalid PIN",
	"092": "Account locked",
	"093": "Invalid account",
}

// DecodeResponse strips tag wrappers, tuple-parses the body, and maps it
// onto an Envelope, applying the §4.3 failure-status-to-message table.
func DecodeResponse(raw string) Envelope {
	stripped := StripTags(raw)
	fields := ParseTuples(stripped)

	status := fields["STATUS"]
	message := fields["DATA"]
	if message == "" {
		message = fields["MESSAGE"]
	}

	env := Envelope{
		Raw:     raw,
		Status:  status,
		Code:    fields["CODE"],
		Data:    fields["DATA"],
		Message: message,
		Fields:  fields,
		Success: successStatuses[status],
	}
	if !env.Success {
		if mapped, ok := failureMessages[status]; ok {
			env.Error = mapped
		} else if message != "" {
			env.Error = message
		} else {
			env.Error = "Request failed"
		}
	}
	return env
}

var (
	maskedKeys = map[string]bool{
		"OLDPIN": true, "NEWPIN": true, "TMPIN": true, "TRXMPIN": true,
		"LOGINMPIN": true, "PIN": true, "PASSWORD": true, "SECRET": true,
	}
	idKeys = map[string]bool{
		"MOBILENUMBER": true, "MSISDN": true, "ACCOUNTID": true,
	}
)

// MaskForLog renders a colon-tuple string with sensitive values replaced
// for log emission only; it must never be used on the wire path.
func MaskForLog(s string) string {
	tuples := ParseTuples(s)
	keys := make([]string, 0, len(tuples))
	for k := range tuples {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := tuples[k]
		switch {
		case maskedKeys[k]:
			v = "[MASKED]"
		case idKeys[k] && len(v) >= 6:
			v = MaskMSISDN(v)
		}
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(v)
		sb.WriteString(":")
	}
	return sb.String()
}

// MaskMSISDN masks a bare MSISDN/account id for log lines: first three and
// last three digits kept, the middle asterisked. Values under 6 characters
// are returned unchanged (too short to safely partially mask).
func MaskMSISDN(v string) string {
	if len(v) < 6 {
		return v
	}
	return v[:3] + "****" + v[len(v)-3:]
}
