package main

import (
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/api"
	"github.com/contentforge/contentforge/pkg/providers"
)

func newLLMRuntime() providers.LLMRuntime {
	return providers.NewHTTPAgentRuntimeFromEnv()
}

func newTTSProvider() providers.TTSProvider {
	return providers.NewHTTPTTSProviderFromEnv()
}

func newVideoRenderer() providers.VideoRenderer {
	return providers.NewHTTPVideoRendererFromEnv()
}

func newEmailProvider() providers.EmailProvider {
	if smtp := providers.NewSMTPEmailFromEnv(); smtp != nil {
		return smtp
	}
	slog.Warn("SMTP not configured, retention notifications will be dropped")
	return providers.NoopEmail{}
}

func newModerator(enabled bool) providers.Moderator {
	if !enabled {
		return providers.NoopModerator{}
	}
	if m := providers.NewHTTPModeratorFromEnv(); m != nil {
		return m
	}
	slog.Info("Moderation service not configured, content is not screened")
	return providers.NoopModerator{}
}

func newBillingGateway() providers.BillingGateway {
	return providers.NewHMACBillingGatewayFromEnv()
}

func newAuthProvider(db *sqlx.DB) api.AuthProvider {
	return api.NewSessionAuth(db)
}
