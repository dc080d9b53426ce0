package domain

import (
	"strings"

	"github.com/spf13/cast"
)

var connectedWords = map[string]struct{}{
	"connected":     {},
	"open":          {},
	"online":        {},
	"authenticated": {},
	"logged_in":     {},
	"loggedin":      {},
}

// StripDataURI returns the raw base64 payload of a data URI, or the input
// unchanged when it has no such prefix.
func StripDataURI(artifact string) string {
	artifact = strings.TrimSpace(artifact)
	if !strings.HasPrefix(strings.ToLower(artifact), "data:") {
		return artifact
	}
	if idx := strings.Index(artifact, ","); idx >= 0 {
		return artifact[idx+1:]
	}
	return ""
}

// NormalizeStatus maps the status payload shapes the gateway has been seen to
// return onto a single connected flag. Unknown shapes mean not connected.
func NormalizeStatus(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	if v, ok := payload["connected"]; ok {
		return truthy(v)
	}
	if status, ok := payload["status"]; ok {
		if nested, ok := asMap(status); ok {
			if v, ok := nested["connected"]; ok {
				return truthy(v)
			}
			if v, ok := nested["loggedIn"]; ok {
				return truthy(v)
			}
		} else {
			return truthy(status)
		}
	}
	if instance, ok := asMap(payload["instance"]); ok {
		for _, key := range []string{"status", "state", "connectionStatus"} {
			if v, ok := instance[key]; ok {
				return truthy(v)
			}
		}
	}
	for _, key := range []string{"state", "loggedIn"} {
		if v, ok := payload[key]; ok {
			return truthy(v)
		}
	}
	return false
}

// ExtractArtifact returns a pairing QR embedded in a status payload.
func ExtractArtifact(payload map[string]any) string {
	candidates := []any{payload["qrcode"], payload["base64"]}
	if instance, ok := asMap(payload["instance"]); ok {
		candidates = append(candidates, instance["qrcode"], instance["base64"])
	}
	for _, c := range candidates {
		if s := StripDataURI(cast.ToString(c)); s != "" {
			return s
		}
	}
	return ""
}

// ExtractProfile reads the account details from a status payload.
func ExtractProfile(payload map[string]any) Profile {
	instance, ok := asMap(payload["instance"])
	if !ok {
		instance = payload
	}
	return Profile{
		Name:     firstString(instance, "profileName", "name"),
		Phone:    firstString(instance, "owner", "phone", "number"),
		Platform: firstString(instance, "plataform", "platform"),
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if _, ok := connectedWords[s]; ok {
			return true
		}
		b, err := cast.ToBoolE(s)
		return err == nil && b
	case float64:
		return t != 0
	default:
		b, err := cast.ToBoolE(v)
		return err == nil && b
	}
}

func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, false
	}
	return m, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(cast.ToString(m[key])); s != "" {
			return s
		}
	}
	return ""
}
