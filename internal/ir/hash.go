package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCatalog = "podwire/catalog/v1"
	DomainSample  = "podwire/sample/v1"
)

// sumWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func sumWithDomain(domain string, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CatalogHash identifies a set of definitions. Two registries built from the
// same definitions in the same order share a hash.
//
// encoding/json sorts map keys, so the serialization is stable.
func CatalogHash(defs []MessageDefinition) (string, error) {
	data, err := json.Marshal(defs)
	if err != nil {
		return "", fmt.Errorf("CatalogHash: failed to marshal: %w", err)
	}
	sum := sumWithDomain(DomainCatalog, data)
	return hex.EncodeToString(sum[:]), nil
}

// SampleUnit maps (seed, tick, messageID) to a uniform value in [0,1).
// The same inputs always produce the same sample.
func SampleUnit(seed, tick int64, messageID string) float64 {
	buf := make([]byte, 16, 16+len(messageID))
	binary.BigEndian.PutUint64(buf[0:8], uint64(seed))
	binary.BigEndian.PutUint64(buf[8:16], uint64(tick))
	buf = append(buf, messageID...)

	sum := sumWithDomain(DomainSample, buf)
	// Top 53 bits give an exactly representable float64 in [0,1).
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}
