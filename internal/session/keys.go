package session

import "fmt"

// Key builds the composite session key: "{prefix}:{msisdn}:{sessionId}:{shortcode|default}".
func Key(prefix, msisdn, sessionID, shortcode string) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefix, msisdn, sessionID, NormalizeShortcode(shortcode))
}

func startKey(sessionKey string) string {
	return sessionKey + ":start"
}

func slotKey(sessionKey, name string) string {
	return sessionKey + ":" + name
}
