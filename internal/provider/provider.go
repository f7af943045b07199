// Package provider defines the intelligence provider used by stages and ships
// an OpenAI-compatible chat-completions client.
package provider

import (
	"context"
	"regexp"
	"strings"
)

// Provider renders a prompt template with vars and returns the model's text.
// Invoke is synchronous; transport and provider-side failures are returned as
// PROVIDER-* errors.
type Provider interface {
	// ID identifies the provider and model. It is part of every cache key,
	// so changing the model invalidates cached artifacts.
	ID() string

	Invoke(ctx context.Context, templateID string, vars map[string]string) (string, error)
}

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")

// ExtractCode returns the body of the first fenced code block in response, or
// the trimmed response when it contains none.
func ExtractCode(response string) string {
	if m := codeFence.FindStringSubmatch(response); m != nil {
		return strings.TrimRight(m[1], "\n") + "\n"
	}
	return strings.TrimSpace(response) + "\n"
}
