// Package naming derives storage namespace identifiers from organization names.
package naming

import "strings"

// Prefix tags every namespace that belongs to an organization.
const Prefix = "org_"

// MaxLength is the longest namespace Derive returns, in bytes. It is the
// PostgreSQL identifier limit; the server would otherwise truncate silently.
const MaxLength = 63

// Derive maps a display name to its namespace identifier. The name is trimmed
// and lowercased, and every rune outside [a-z0-9_] becomes an underscore.
//
// The result is cut to MaxLength bytes. Every byte is ASCII, so the cut never
// splits a rune.
//
// Derive is not injective: "Acme Corp" and "acme-corp" both map to
// org_acme_corp, and so do names sharing their first MaxLength-4 cleaned
// bytes. Callers that need uniqueness must check ownership themselves.
func Derive(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(Prefix) + len(cleaned))
	b.WriteString(Prefix)
	for _, r := range cleaned {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	ns := b.String()
	if len(ns) > MaxLength {
		ns = ns[:MaxLength]
	}
	return ns
}

// IsNamespace reports whether s looks like an organization namespace.
func IsNamespace(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
