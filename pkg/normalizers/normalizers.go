// Package normalizers provides text and key normalization used for fingerprinting,
// similarity scoring and suppression lookups
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// Names of the contact normalizers resolvable through Apply
const (
	Email   = "nemail"
	Domain  = "ndomain"
	Company = "ncompany"
)

var registry = map[string]Normalizer{
	Email:   NormalizeEmail,
	Domain:  NormalizeDomain,
	Company: NormalizeCompany,
}

// Apply applies a named normalizer to a value. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// letters that NFD does not decompose into a base letter plus a mark
var foldReplacer = strings.NewReplacer(
	"ß", "ss", "ẞ", "SS",
	"ł", "l", "Ł", "L",
	"ø", "o", "Ø", "O",
	"đ", "d", "Đ", "D",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ı", "i",
)

// Fold strips diacritics ("Zürich" -> "Zurich", "Łódź" -> "Lodz")
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return foldReplacer.Replace(folded)
}

// RemovePunctuation drops punctuation and symbol characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// CollapseWhitespace trims and reduces every whitespace run to a single space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalText lower-cases, strips diacritics, drops punctuation and collapses whitespace.
// "IT Services - Berlin" and "it services berlin" canonicalize identically.
func CanonicalText(s string) string {
	return CollapseWhitespace(RemovePunctuation(Fold(strings.ToLower(s))))
}

// Tokens returns the canonical whitespace tokens of s
func Tokens(s string) []string {
	return strings.Fields(CanonicalText(s))
}

// TokenSet returns the distinct canonical tokens of all given texts
func TokenSet(texts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, text := range texts {
		for _, tok := range Tokens(text) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeDomain lower-cases a domain and strips scheme, "www." and any path
func NormalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, ".")
}

// EmailDomain returns the normalized domain part of an email address, or ""
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return NormalizeDomain(email[i+1:])
}

var legalSuffixes = map[string]bool{
	"gmbh": true, "ag": true, "kg": true, "ug": true, "mbh": true,
	"ltd": true, "limited": true, "plc": true, "llc": true, "inc": true, "corp": true, "co": true,
	"sa": true, "sas": true, "sarl": true, "srl": true, "spa": true, "bv": true, "nv": true,
	"oy": true, "ab": true, "as": true, "sp": true, "z": true, "oo": true,
}

// NormalizeCompany canonicalizes a company name and drops trailing legal-form tokens
// ("ACME Software GmbH" -> "acme software")
func NormalizeCompany(s string) string {
	tokens := Tokens(s)
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// NormalizeCountry upper-cases and trims an ISO country code
func NormalizeCountry(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeCode trims a category code and drops a trailing check digit ("72000000-5" -> "72000000")
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	return s
}

// CodeSpecificity counts the significant characters of a hierarchical category code,
// ignoring trailing zeros: "72000000" -> 2, "72100000" -> 3, "72212100" -> 6
func CodeSpecificity(code string) int {
	return len(strings.TrimRight(NormalizeCode(code), "0"))
}

// NormalizeCodes normalizes, de-duplicates and drops empty codes, keeping first-seen order
func NormalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = NormalizeCode(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
