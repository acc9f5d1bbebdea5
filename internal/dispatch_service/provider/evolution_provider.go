package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
)

// EvolutionProvider talks to an Evolution API server. Auth is an "apikey"
// header; endpoints are namespaced by instance name.
type EvolutionProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
}

func NewEvolutionProvider(logger *slog.Logger, httpClient *http.Client) *EvolutionProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EvolutionProvider{
		logger:     logger.With("provider", "evolution"),
		httpClient: httpClient,
	}
}

func (p *EvolutionProvider) GetName() core_domain.Provider { return core_domain.ProviderEvolution }

type evolutionTextBody struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Quoted string `json:"quoted,omitempty"`
}

type evolutionMediaBody struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type evolutionSendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
	} `json:"key"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (p *EvolutionProvider) Send(ctx context.Context, gw *core_domain.GatewayConfig, details SendRequestDetails) (*SendResponseDetails, error) {
	var endpoint string
	var body any
	switch details.Type {
	case core_domain.TypeText:
		endpoint = "message/sendText/" + gw.InstanceName
		body = evolutionTextBody{Number: details.Phone, Text: details.Content, Quoted: details.ReplyToID}
	case core_domain.TypeImage, core_domain.TypeVideo, core_domain.TypeDocument:
		endpoint = "message/sendMedia/" + gw.InstanceName
		body = evolutionMediaBody{
			Number:    details.Phone,
			MediaType: string(details.Type),
			Media:     details.MediaURL,
			Caption:   details.Content,
			FileName:  details.FileName,
		}
	case core_domain.TypeAudio:
		endpoint = "message/sendWhatsAppAudio/" + gw.InstanceName
		body = evolutionMediaBody{Number: details.Phone, MediaType: "audio", Media: details.MediaURL}
	default:
		return nil, &core_domain.ProviderError{Provider: core_domain.ProviderEvolution, Cause: core_domain.CauseGeneric,
			Message: fmt.Sprintf("unsupported message type %q", details.Type)}
	}

	respBytes, statusCode, err := p.do(ctx, gw, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp evolutionSendResponse
	if unmarshalErr := json.Unmarshal(respBytes, &resp); unmarshalErr != nil {
		p.logger.WarnContext(ctx, "Evolution response body not parseable", "status_code", statusCode, "body", string(respBytes))
	}

	if statusCode >= 200 && statusCode < 300 {
		return &SendResponseDetails{
			IsSuccess:         true,
			ProviderMessageID: resp.Key.ID,
			ChatID:            resp.Key.RemoteJid,
			ProviderStatus:    fmt.Sprintf("SENT_EVOLUTION_%d", statusCode),
		}, nil
	}

	cause := core_domain.CauseGeneric
	errText := strings.ToLower(resp.Error + " " + resp.Message)
	if statusCode == http.StatusNotFound || strings.Contains(errText, "instance") {
		cause = core_domain.CauseSessionNotFound
	}
	return &SendResponseDetails{
			IsSuccess:      false,
			ProviderStatus: fmt.Sprintf("FAILED_EVOLUTION_%d", statusCode),
			ErrorMessage:   resp.Error,
		}, &core_domain.ProviderError{
			Provider:   core_domain.ProviderEvolution,
			Cause:      cause,
			Message:    firstNonEmpty(resp.Error, resp.Message, fmt.Sprintf("Evolution API error: status %d", statusCode)),
			StatusCode: statusCode,
		}
}

type evolutionNumberCheck struct {
	Exists bool   `json:"exists"`
	Jid    string `json:"jid"`
}

func (p *EvolutionProvider) CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	respBytes, statusCode, err := p.do(ctx, gw, http.MethodPost, "chat/whatsappNumbers/"+gw.InstanceName,
		map[string][]string{"numbers": {phone}})
	if err != nil {
		return "", err
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", &core_domain.ProviderError{Provider: core_domain.ProviderEvolution,
			Cause: core_domain.CauseIdentityResolution,
			Message: fmt.Sprintf("whatsappNumbers returned status %d", statusCode), StatusCode: statusCode}
	}
	var checks []evolutionNumberCheck
	if err := json.Unmarshal(respBytes, &checks); err != nil {
		return "", fmt.Errorf("failed to parse whatsappNumbers response: %w", err)
	}
	if len(checks) == 0 || !checks[0].Exists {
		return "", &core_domain.ProviderError{Provider: core_domain.ProviderEvolution,
			Cause: core_domain.CauseIdentityResolution,
			Message: fmt.Sprintf("phone %s is not a WhatsApp contact", phone)}
	}
	return checks[0].Jid, nil
}

func (p *EvolutionProvider) ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	// Evolution reports the real jid through the number check endpoint.
	jid, err := p.CheckContact(ctx, gw, maskedID)
	if err != nil {
		return "", ErrContactNotResolved
	}
	phone := strings.SplitN(jid, "@", 2)[0]
	if phone == "" || phone == maskedID {
		return "", ErrContactNotResolved
	}
	return phone, nil
}

type evolutionProfilePicture struct {
	ProfilePictureURL string `json:"profilePictureUrl"`
}

func (p *EvolutionProvider) FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	respBytes, statusCode, err := p.do(ctx, gw, http.MethodPost, "chat/fetchProfilePictureUrl/"+gw.InstanceName,
		map[string]string{"number": phone})
	if err != nil || statusCode < 200 || statusCode >= 300 {
		return "", ErrAvatarUnavailable
	}
	var resp evolutionProfilePicture
	if err := json.Unmarshal(respBytes, &resp); err != nil || resp.ProfilePictureURL == "" {
		return "", ErrAvatarUnavailable
	}
	return resp.ProfilePictureURL, nil
}

func (p *EvolutionProvider) do(ctx context.Context, gw *core_domain.GatewayConfig, method, endpoint string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal Evolution request: %w", err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	url := strings.TrimRight(gw.BaseURL, "/") + "/" + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create Evolution request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("apikey", gw.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reach Evolution API: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to read Evolution response: %w", readErr)
	}
	return respBytes, httpResp.StatusCode, nil
}
