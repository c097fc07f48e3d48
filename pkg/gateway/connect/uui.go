// Package connect integrates calls with Amazon Connect: parsing the
// contact metadata Connect places in SIP headers and writing the
// conversation's outcome back as contact attributes.
package connect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseUUI decodes a SIP User-to-User header carrying hex-encoded
// JSON, as Amazon Connect emits it, into a flat string map. Non-string
// JSON values are stringified.
func ParseUUI(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return map[string]string{}, nil
	}

	decoded, err := hexToString(header)
	if err != nil {
		return nil, fmt.Errorf("decode UUI hex: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(decoded), &raw); err != nil {
		return nil, fmt.Errorf("parse UUI JSON: %w", err)
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
			out[key] = ""
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[key] = fmt.Sprint(v)
				continue
			}
			out[key] = string(b)
		}
	}
	return out, nil
}

func hexToString(s string) (string, error) {
	// Strip separators some PBXes insert.
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("odd-length hex string")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
