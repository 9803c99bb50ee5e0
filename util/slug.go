// Package util provides small, stateless utility functions shared across the
// application. Functions here have no dependencies on other internal packages.
package util

import (
	"fmt"
	"strings"
)

// Slugify converts an arbitrary identifier (typically "<owner>/<repo>") into a
// URL- and filesystem-safe slug: lowercase, with every run of characters
// outside [a-z0-9] collapsed to a single hyphen, and no leading or trailing
// hyphen. example: "Acme-Inc/API_v2" becomes "acme-inc-api-v2".
//
// an input with no alphanumeric characters at all slugifies to "".
func Slugify(input string) string {
	lowered := strings.ToLower(input)

	var builder strings.Builder
	builder.Grow(len(lowered))

	previousWasHyphen := false
	for _, character := range lowered {
		isAlphanumeric := (character >= 'a' && character <= 'z') || (character >= '0' && character <= '9')
		if isAlphanumeric {
			builder.WriteRune(character)
			previousWasHyphen = false
			continue
		}

		// collapse every separator run into one hyphen
		if !previousWasHyphen {
			builder.WriteByte('-')
			previousWasHyphen = true
		}
	}

	return strings.Trim(builder.String(), "-")
}

// DeploymentID builds the canonical identifier for a preview deployment from
// the repository slug and the pull request number. the id doubles as the
// compose project name, the nginx route file stem, and the working-tree
// directory name, so it must stay within [a-z0-9-].
func DeploymentID(projectSlug string, prNumber int) string {
	return fmt.Sprintf("%s-%d", projectSlug, prNumber)
}
