// Package fingerprint computes deterministic content hashes used to detect exact
// duplicates across connectors and across time
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
)

// DefaultMaxCodes is the number of most specific category codes kept in the hash input
const DefaultMaxCodes = 3

// Generate returns the fingerprint of a record using DefaultMaxCodes
func Generate(record models.Record) (string, error) {
	return GenerateWithMaxCodes(record, DefaultMaxCodes)
}

// GenerateWithMaxCodes returns the hex SHA-256 of "title|COUNTRY|code,code,...", where the
// title is canonicalized and the codes are the maxCodes most specific ones, sorted ascending.
// Records whose title is empty after normalization are rejected.
func GenerateWithMaxCodes(record models.Record, maxCodes int) (string, error) {
	title := normalizers.CanonicalText(record.Title)
	if title == "" {
		return "", &models.InvalidRecordError{
			Source:      record.Source,
			ExternalRef: record.ExternalRef,
			Reason:      "title is empty after normalization",
		}
	}

	country := normalizers.NormalizeCountry(record.Country)
	codes := MostSpecificCodes(record.CategoryCodes, maxCodes)
	sort.Strings(codes)

	canonical := title + "|" + country + "|" + strings.Join(codes, ",")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:]), nil
}

// MostSpecificCodes returns up to n normalized codes ordered by specificity (desc), then code (asc).
// n <= 0 keeps every code.
func MostSpecificCodes(codes []string, n int) []string {
	normalized := normalizers.NormalizeCodes(codes)
	sort.SliceStable(normalized, func(i, j int) bool {
		si, sj := normalizers.CodeSpecificity(normalized[i]), normalizers.CodeSpecificity(normalized[j])
		if si != sj {
			return si > sj
		}
		return normalized[i] < normalized[j]
	})
	if n > 0 && len(normalized) > n {
		normalized = normalized[:n]
	}
	return normalized
}
