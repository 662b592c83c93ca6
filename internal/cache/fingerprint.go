package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a stable cache key from an endpoint and its parameters.
// encoding/json writes map keys in sorted order, so the result does not depend
// on how the caller populated params.
func Fingerprint(endpoint string, params map[string]any) string {
	hasher := sha256.New()
	hasher.Write([]byte(endpoint))
	hasher.Write([]byte{'\n'})
	if len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			// Unencodable values still need a deterministic key.
			encoded = []byte(fmt.Sprintf("%v", params))
		}
		hasher.Write(encoded)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
