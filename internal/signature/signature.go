// Package signature implements the shared-secret keyed-hash scheme used by
// gateways that sign their webhook notifications instead of exposing a
// verification API.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// delimiter joins the canonicalised field values before hashing. It is fixed
// by the gateway protocol.
const delimiter = "|"

// Sign canonicalises the field set and returns the hex-encoded HMAC-SHA1
// under secret. Canonicalisation sorts keys case-insensitively ascending and
// joins the corresponding values with the protocol delimiter; form encoders
// do not guarantee field order, so any scheme depending on submission order
// would be forgeable by reordering.
func Sign(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fields[k])
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.Join(values, delimiter)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the signature of fields under
// secret, using a constant-time comparison. The signature field itself must
// already be removed from fields. Malformed input (empty field set, missing
// signature or secret) verifies false rather than erroring; callers treat
// "unverified" and "false" identically.
func Verify(fields map[string]string, provided, secret string) bool {
	if len(fields) == 0 || secret == "" {
		return false
	}
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	expected := Sign(fields, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
