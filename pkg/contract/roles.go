package contract

import "strings"

// DefaultRole is injected into every contract that does not declare it, so
// callers without an explicit role still see unrestricted methods.
const DefaultRole = "default"

// ParseRoles splits a role expression into allowed and excluded roles.
// Tokens are comma separated, trimmed and lower-cased; a leading "!" excludes.
func ParseRoles(expr string) (roles, notRoles []string) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return nil, nil
	}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "!") {
			tok = strings.TrimSpace(tok[1:])
			if tok == "" {
				continue
			}
			notRoles = append(notRoles, tok)
			continue
		}
		roles = append(roles, tok)
	}
	return roles, notRoles
}

// ResolveRoles resolves role expressions into a de-duplicated allow-list:
// every declared role minus every excluded role, in first-declaration order.
// The result is never nil.
func ResolveRoles(exprs ...string) []string {
	var roles []string
	excluded := make(map[string]bool)
	for _, e := range exprs {
		r, n := ParseRoles(e)
		roles = append(roles, r...)
		for _, x := range n {
			excluded[x] = true
		}
	}
	out := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if seen[r] || excluded[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// normalizeRoles lower-cases and trims caller roles for matching.
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
