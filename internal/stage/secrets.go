package stage

import (
	"bytes"
	"fmt"
	"strings"
)

// secretPatterns are flagged when they appear anywhere in a file, case-insensitively.
var secretPatterns = []string{"api_key", "secret_key", "password", "token"}

// ScanSecrets returns the secret-like patterns found in content.
func ScanSecrets(content []byte) []string {
	lower := bytes.ToLower(content)
	var found []string
	for _, p := range secretPatterns {
		if bytes.Contains(lower, []byte(p)) {
			found = append(found, p)
		}
	}
	return found
}

func secretIssueBody(p string, found []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A potential security risk was detected in the file `%s`.\n\n", p)
	b.WriteString("The following patterns were found:\n")
	for _, f := range found {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\nPlease review this file and ensure no sensitive information is exposed.")
	return b.String()
}
