package config

import "strings"

// WebhookBodyPolicy bounds what the settlement webhook endpoint accepts
// before the signature is even checked.
type WebhookBodyPolicy struct {
	MaxSize      int64
	AllowedTypes []string
}

var WebhookFileConfig = WebhookBodyPolicy{
	MaxSize:      1 << 20, // 1MB
	AllowedTypes: []string{"application/json"},
}

// Allows reports whether contentType (parameters ignored) is accepted. An
// empty content type is accepted, providers are not consistent about it.
func (p WebhookBodyPolicy) Allows(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return true
	}
	for _, t := range p.AllowedTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}
