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

// CloudAPIProvider talks to the official WhatsApp Business Cloud API
// (Graph-style /messages endpoint, bearer token auth).
type CloudAPIProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
}

func NewCloudAPIProvider(logger *slog.Logger, httpClient *http.Client) *CloudAPIProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CloudAPIProvider{
		logger:     logger.With("provider", "cloudapi"),
		httpClient: httpClient,
	}
}

func (p *CloudAPIProvider) GetName() core_domain.Provider { return core_domain.ProviderCloudAPI }

type cloudAPIMessageBody struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *cloudAPIText    `json:"text,omitempty"`
	Image            *cloudAPIMedia   `json:"image,omitempty"`
	Audio            *cloudAPIMedia   `json:"audio,omitempty"`
	Video            *cloudAPIMedia   `json:"video,omitempty"`
	Document         *cloudAPIMedia   `json:"document,omitempty"`
	Context          *cloudAPIContext `json:"context,omitempty"`
}

type cloudAPIText struct {
	Body string `json:"body"`
}

type cloudAPIMedia struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type cloudAPIContext struct {
	MessageID string `json:"message_id"`
}

type cloudAPISendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Details string `json:"error_data"`
	} `json:"error"`
}

func (p *CloudAPIProvider) Send(ctx context.Context, gw *core_domain.GatewayConfig, details SendRequestDetails) (*SendResponseDetails, error) {
	body := cloudAPIMessageBody{
		MessagingProduct: "whatsapp",
		To:               details.Phone,
		Type:             string(details.Type),
	}
	if details.ReplyToID != "" {
		body.Context = &cloudAPIContext{MessageID: details.ReplyToID}
	}
	switch details.Type {
	case core_domain.TypeText:
		body.Text = &cloudAPIText{Body: details.Content}
	case core_domain.TypeImage:
		body.Image = &cloudAPIMedia{Link: details.MediaURL, Caption: details.Content}
	case core_domain.TypeAudio:
		body.Audio = &cloudAPIMedia{Link: details.MediaURL}
	case core_domain.TypeVideo:
		body.Video = &cloudAPIMedia{Link: details.MediaURL, Caption: details.Content}
	case core_domain.TypeDocument:
		body.Document = &cloudAPIMedia{Link: details.MediaURL, Filename: details.FileName}
	default:
		return nil, &core_domain.ProviderError{Provider: core_domain.ProviderCloudAPI, Cause: core_domain.CauseGeneric,
			Message: fmt.Sprintf("unsupported message type %q", details.Type)}
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Cloud API request: %w", err)
	}

	url := strings.TrimRight(gw.BaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud API request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+gw.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach Cloud API: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read Cloud API response: %w", readErr)
	}

	var resp cloudAPISendResponse
	if unmarshalErr := json.Unmarshal(respBytes, &resp); unmarshalErr != nil {
		p.logger.WarnContext(ctx, "Cloud API response body not parseable", "status_code", httpResp.StatusCode, "body", string(respBytes))
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		out := &SendResponseDetails{
			IsSuccess:      true,
			ProviderStatus: fmt.Sprintf("SENT_CLOUDAPI_%d", httpResp.StatusCode),
		}
		if len(resp.Messages) > 0 {
			out.ProviderMessageID = resp.Messages[0].ID
		}
		if len(resp.Contacts) > 0 {
			out.ChatID = resp.Contacts[0].WaID
		}
		return out, nil
	}

	cause := core_domain.CauseGeneric
	errMsg := fmt.Sprintf("Cloud API error: status %d", httpResp.StatusCode)
	if resp.Error != nil {
		errMsg = resp.Error.Message
		lower := strings.ToLower(resp.Error.Message)
		switch {
		case strings.Contains(lower, "unsupported") || strings.Contains(lower, "tier"):
			cause = core_domain.CauseUnsupportedMediaPlan
		case httpResp.StatusCode == http.StatusNotFound:
			cause = core_domain.CauseSessionNotFound
		case strings.Contains(lower, "recipient"):
			cause = core_domain.CauseIdentityResolution
		}
	}
	return &SendResponseDetails{
			IsSuccess:      false,
			ProviderStatus: fmt.Sprintf("FAILED_CLOUDAPI_%d", httpResp.StatusCode),
			ErrorMessage:   errMsg,
		}, &core_domain.ProviderError{
			Provider:   core_domain.ProviderCloudAPI,
			Cause:      cause,
			Message:    errMsg,
			StatusCode: httpResp.StatusCode,
		}
}

// CheckContact: the Cloud API has no pre-send existence check; the send
// itself reports an invalid recipient. The wa_id equals the phone.
func (p *CloudAPIProvider) CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	return phone, nil
}

func (p *CloudAPIProvider) ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	return "", ErrContactNotResolved
}

func (p *CloudAPIProvider) FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	return "", ErrAvatarUnavailable
}
