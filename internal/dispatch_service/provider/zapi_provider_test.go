package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func zapiGateway(baseURL string) *core_domain.GatewayConfig {
	return &core_domain.GatewayConfig{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Provider: core_domain.ProviderZAPI,
		BaseURL:  baseURL,
		APIKey:   "secret-token",
		Active:   true,
	}
}

func TestZAPISend_Text(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send-text", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("Client-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"zaapId":"Z1","messageId":"3EB0C8D7","id":"3EB0C8D7"}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	resp, err := p.Send(context.Background(), zapiGateway(server.URL), SendRequestDetails{
		Phone:   "5545999990000",
		Content: "Olá Maria",
		Type:    core_domain.TypeText,
	})

	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, "3EB0C8D7", resp.ProviderMessageID)
}

// Deployed instances disagree on the auth header; the adapter walks the
// known encodings until one is accepted.
func TestZAPISend_RetriesAuthEncodingsOnUnauthorized(t *testing.T) {
	var attempts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Header.Get("Client-Token") == "secret-token" && len(attempts) == 0:
			attempts = append(attempts, "Client-Token")
			w.WriteHeader(http.StatusUnauthorized)
		case r.Header.Get("client-token") == "secret-token" && len(attempts) == 1:
			attempts = append(attempts, "client-token")
			w.WriteHeader(http.StatusUnauthorized)
		case r.Header.Get("Authorization") == "Bearer secret-token":
			attempts = append(attempts, "Bearer")
			w.Write([]byte(`{"messageId":"OK1"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	resp, err := p.Send(context.Background(), zapiGateway(server.URL), SendRequestDetails{
		Phone:   "5545999990000",
		Content: "oi",
		Type:    core_domain.TypeText,
	})

	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, "OK1", resp.ProviderMessageID)
	assert.Equal(t, []string{"Client-Token", "client-token", "Bearer"}, attempts)
}

func TestZAPISend_AllAuthEncodingsRejected(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.Send(context.Background(), zapiGateway(server.URL), SendRequestDetails{
		Phone:   "5545999990000",
		Content: "oi",
		Type:    core_domain.TypeText,
	})

	require.Error(t, err)
	provErr, ok := core_domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestZAPISend_UnsupportedAudioClassifiedAsPlanLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send-audio", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"audio messages are not allowed on your current plan"}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.Send(context.Background(), zapiGateway(server.URL), SendRequestDetails{
		Phone:    "5545999990000",
		Type:     core_domain.TypeAudio,
		MediaURL: "https://cdn.example.com/voice.ogg",
	})

	require.Error(t, err)
	provErr, ok := core_domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core_domain.CauseUnsupportedMediaPlan, provErr.Cause)
}

func TestZAPISend_DisconnectedInstanceClassifiedAsSessionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"instance is disconnected"}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.Send(context.Background(), zapiGateway(server.URL), SendRequestDetails{
		Phone:   "5545999990000",
		Content: "oi",
		Type:    core_domain.TypeText,
	})

	provErr, ok := core_domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core_domain.CauseSessionNotFound, provErr.Cause)
}

func TestZAPICheckContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/phone-exists/5545999990000", r.URL.Path)
		w.Write([]byte(`{"exists":true,"chatId":"5545999990000@c.us"}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	chatID, err := p.CheckContact(context.Background(), zapiGateway(server.URL), "5545999990000")
	require.NoError(t, err)
	assert.Equal(t, "5545999990000@c.us", chatID)
}

func TestZAPICheckContact_NotAContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exists":false}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.CheckContact(context.Background(), zapiGateway(server.URL), "5545999990000")
	provErr, ok := core_domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core_domain.CauseIdentityResolution, provErr.Cause)
}

func TestZAPIResolveContact_Unresolvable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.ResolveContact(context.Background(), zapiGateway(server.URL), "123456789012345")
	assert.ErrorIs(t, err, ErrContactNotResolved)
}

func TestZAPIFetchAvatar_EmptyLinkSignalsRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"link":""}`))
	}))
	defer server.Close()

	p := NewZAPIProvider(newTestLogger(), server.Client())
	_, err := p.FetchAvatar(context.Background(), zapiGateway(server.URL), "5545999990000")
	assert.ErrorIs(t, err, ErrAvatarUnavailable)
}
