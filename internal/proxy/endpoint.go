package proxy

import "strings"

const anthropicVersion = "2023-06-01"

type wireStyle int

const (
	styleOpenAI wireStyle = iota
	styleAnthropic
)

// endpoint is a fully resolved upstream URL plus the auth convention
// it expects.
type endpoint struct {
	URL   string
	style wireStyle
}

// resolveEndpoint turns an admin-configured base URL into a callable
// endpoint. Admins paste bare base URLs, so the path is completed for
// them: a URL that already names a known suffix is used verbatim,
// otherwise the URL hints which ecosystem the provider speaks.
func resolveEndpoint(baseURL string) endpoint {
	trimmed := strings.TrimRight(baseURL, "/")
	lower := strings.ToLower(trimmed)

	switch {
	case strings.Contains(lower, "/messages"):
		return endpoint{URL: trimmed, style: styleAnthropic}
	case strings.Contains(lower, "/chat/completions"):
		return endpoint{URL: trimmed, style: styleOpenAI}
	case strings.Contains(lower, "anthropic"):
		return endpoint{URL: joinV1(trimmed, "/messages"), style: styleAnthropic}
	default:
		return endpoint{URL: joinV1(trimmed, "/chat/completions"), style: styleOpenAI}
	}
}

// joinV1 appends a versioned suffix without doubling an existing /v1
// segment, since pasted base URLs come both with and without it.
func joinV1(base, suffix string) string {
	if strings.HasSuffix(base, "/v1") {
		return base + suffix
	}
	return base + "/v1" + suffix
}

// authHeaders builds the provider auth headers for the decrypted token.
func (e endpoint) authHeaders(token string) map[string]string {
	if e.style == styleAnthropic {
		return map[string]string{
			"x-api-key":         token,
			"anthropic-version": anthropicVersion,
		}
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
	}
}
