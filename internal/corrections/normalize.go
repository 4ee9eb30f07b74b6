package corrections

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// InputType distinguishes how an input value is normalized before hashing.
type InputType string

const (
	InputURL  InputType = "url"
	InputText InputType = "text"
)

// Tracking parameters stripped from URLs so that the same link shared through
// different campaigns hashes identically.
var trackingParams = map[string]bool{
	"fbclid":      true,
	"gclid":       true,
	"igshid":      true,
	"mc_cid":      true,
	"mc_eid":      true,
	"ref":         true,
	"ref_":        true,
	"si":          true,
	"tag":         true,
	"ttclid":      true,
	"twclid":      true,
	"feature":     true,
	"share_id":    true,
	"affiliate":   true,
	"linkCode":    true,
	"linkId":      true,
	"campaign_id": true,
}

// NormalizeInput canonicalizes an input value. URLs lose tracking parameters,
// their host is lowercased and the fragment dropped; free text is lowercased
// with whitespace collapsed.
func NormalizeInput(inputType InputType, value string) string {
	switch inputType {
	case InputURL:
		return normalizeURL(value)
	default:
		return normalizeText(value)
	}
}

// HashInput returns the lookup key for a normalized input.
func HashInput(inputType InputType, value string) string {
	sum := sha256.Sum256([]byte(string(inputType) + "\x00" + NormalizeInput(inputType, value)))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return normalizeText(raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	query := u.Query()
	for param := range query {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			query.Del(param)
		}
	}
	u.RawQuery = query.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
