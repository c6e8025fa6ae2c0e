package cell

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainCell is the domain prefix for cell content hashes.
// The version suffix enables future algorithm migration.
const DomainCell = "cellcalc/cell/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes the content hash of a cell over its value, props and error.
// Deferred values are resolved first. The existing Hash field is ignored.
//
// Two snapshots with equal hashes are interchangeable for diffing.
func Hash(d CellData) (string, error) {
	obj, err := canonicalCell(d.Resolved())
	if err != nil {
		return "", fmt.Errorf("hash cell: %w", err)
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("hash cell: %w", err)
	}
	return hashWithDomain(DomainCell, data), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(d CellData) string {
	h, err := Hash(d)
	if err != nil {
		panic(err)
	}
	return h
}

// canonicalCell converts a resolved cell into plain data for hashing.
func canonicalCell(d CellData) (map[string]any, error) {
	obj := map[string]any{}

	if d.Value != nil {
		v, err := ToAny(d.Value)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		obj["value"] = v
	}

	if len(d.Props) > 0 {
		props := make(map[string]any, len(d.Props))
		for k, pv := range d.Props {
			v, err := ToAny(pv)
			if err != nil {
				return nil, fmt.Errorf("props.%s: %w", k, err)
			}
			props[k] = v
		}
		obj["props"] = props
	}

	if d.Error != nil {
		e := map[string]any{
			"type":    string(d.Error.Type),
			"message": d.Error.Message,
		}
		if d.Error.Cell != "" {
			e["cell"] = string(d.Error.Cell)
		}
		if len(d.Error.Path) > 0 {
			path := make([]any, len(d.Error.Path))
			for i, k := range d.Error.Path {
				path[i] = string(k)
			}
			e["path"] = path
		}
		obj["error"] = e
	}

	return obj, nil
}
