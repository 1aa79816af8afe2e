package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	// secretRefRegex matches ${type:name} patterns
	secretRefRegex = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)
)

// ParseSecretRef parses a string that may contain secret references
func ParseSecretRef(input string) (*SecretRef, error) {
	matches := secretRefRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid secret reference format: %s", input)
	}

	return &SecretRef{
		Type:     strings.TrimSpace(matches[1]),
		Name:     strings.TrimSpace(matches[2]),
		Original: input,
	}, nil
}

// IsSecretRef returns true if the string looks like a secret reference
func IsSecretRef(input string) bool {
	return secretRefRegex.MatchString(input)
}

// FindSecretRefs finds all secret references in a string
func FindSecretRefs(input string) []*SecretRef {
	matches := secretRefRegex.FindAllStringSubmatch(input, -1)
	refs := make([]*SecretRef, 0, len(matches))

	for _, match := range matches {
		if len(match) == 3 {
			refs = append(refs, &SecretRef{
				Type:     strings.TrimSpace(match[1]),
				Name:     strings.TrimSpace(match[2]),
				Original: match[0],
			})
		}
	}

	return refs
}

// ExpandSecretRefs replaces all secret references in a string with resolved values.
// Strings without references are returned unchanged.
func (r *Resolver) ExpandSecretRefs(ctx context.Context, input string) (string, error) {
	if !IsSecretRef(input) {
		return input, nil
	}

	result := input
	for _, ref := range FindSecretRefs(input) {
		value, err := r.Resolve(ctx, *ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", ref.Original, err)
		}
		result = strings.ReplaceAll(result, ref.Original, value)
	}

	return result, nil
}
