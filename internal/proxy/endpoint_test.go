package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantURL string
		want    wireStyle
	}{
		{
			name:    "bare anthropic host",
			baseURL: "https://api.anthropic.com",
			wantURL: "https://api.anthropic.com/v1/messages",
			want:    styleAnthropic,
		},
		{
			name:    "anthropic host with v1",
			baseURL: "https://api.anthropic.com/v1",
			wantURL: "https://api.anthropic.com/v1/messages",
			want:    styleAnthropic,
		},
		{
			name:    "bare openai host",
			baseURL: "https://api.openai.com",
			wantURL: "https://api.openai.com/v1/chat/completions",
			want:    styleOpenAI,
		},
		{
			name:    "openai host with v1",
			baseURL: "https://api.openai.com/v1",
			wantURL: "https://api.openai.com/v1/chat/completions",
			want:    styleOpenAI,
		},
		{
			name:    "unknown host defaults to openai style",
			baseURL: "https://llm.internal.example",
			wantURL: "https://llm.internal.example/v1/chat/completions",
			want:    styleOpenAI,
		},
		{
			name:    "explicit messages path used verbatim",
			baseURL: "https://gateway.example/custom/messages",
			wantURL: "https://gateway.example/custom/messages",
			want:    styleAnthropic,
		},
		{
			name:    "explicit chat completions path used verbatim",
			baseURL: "https://gateway.example/openai/v1/chat/completions",
			wantURL: "https://gateway.example/openai/v1/chat/completions",
			want:    styleOpenAI,
		},
		{
			name:    "trailing slash trimmed",
			baseURL: "https://api.anthropic.com/",
			wantURL: "https://api.anthropic.com/v1/messages",
			want:    styleAnthropic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := resolveEndpoint(tt.baseURL)
			assert.Equal(t, tt.wantURL, ep.URL)
			assert.Equal(t, tt.want, ep.style)
		})
	}
}

func TestAuthHeaders(t *testing.T) {
	anthropic := endpoint{style: styleAnthropic}
	headers := anthropic.authHeaders("secret-token")
	assert.Equal(t, "secret-token", headers["x-api-key"])
	assert.Equal(t, anthropicVersion, headers["anthropic-version"])
	assert.NotContains(t, headers, "Authorization")

	openai := endpoint{style: styleOpenAI}
	headers = openai.authHeaders("secret-token")
	assert.Equal(t, "Bearer secret-token", headers["Authorization"])
	assert.NotContains(t, headers, "x-api-key")
}
