package assistant

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/zhouzirui/care-relay/backend/internal/config"
)

// New builds the client selected by cfg.Provider. It returns
// ErrCredentialMissing when the provider has no credential configured.
func New(ctx context.Context, cfg config.AssistantConfig) (Client, error) {
	if !cfg.CredentialSet() {
		return nil, ErrCredentialMissing
	}

	opts := Options{SystemPrompt: cfg.SystemPrompt, HistoryLimit: cfg.HistoryLimit}

	switch cfg.Provider {
	case config.ProviderArk, "":
		chatModel, err := cfg.Ark.NewChatModel(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "create ark chat model")
		}
		client, err := NewEinoClient(ctx, chatModel, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderAnthropic:
		reqOpts := []option.RequestOption{option.WithAPIKey(cfg.Anthropic.APIKey)}
		if cfg.Anthropic.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return NewAnthropicClient(cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens), opts, reqOpts...), nil
	default:
		return nil, errors.Wrapf(ErrUnknownProvider, "provider %q", cfg.Provider)
	}
}
