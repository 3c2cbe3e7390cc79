// File: internal/services/ai/provider.go
package ai

import "strings"

// NewProvider builds the provider selected by config.Provider.
func NewProvider(config *Config) (Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}
	switch strings.ToLower(config.Provider) {
	case ProviderOllama:
		return NewOllamaProvider(config)
	default:
		return NewOpenAIProvider(config), nil
	}
}
