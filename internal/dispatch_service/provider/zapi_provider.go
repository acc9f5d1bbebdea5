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

// ZAPIProvider talks to a Z-API instance. Authentication is a client-token
// header, but deployed instances disagree on the header casing and some
// fronting proxies only accept a bearer token, so repeated unauthorized
// responses are retried under the alternate encodings before failing.
type ZAPIProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
}

func NewZAPIProvider(logger *slog.Logger, httpClient *http.Client) *ZAPIProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ZAPIProvider{
		logger:     logger.With("provider", "zapi"),
		httpClient: httpClient,
	}
}

func (p *ZAPIProvider) GetName() core_domain.Provider { return core_domain.ProviderZAPI }

// authEncodings lists the header variants tried on 401/403, in order.
var zapiAuthEncodings = []func(r *http.Request, token string){
	func(r *http.Request, token string) { r.Header.Set("Client-Token", token) },
	func(r *http.Request, token string) { r.Header.Set("client-token", token) },
	func(r *http.Request, token string) { r.Header.Set("Authorization", "Bearer "+token) },
}

type zapiSendBody struct {
	Phone     string `json:"phone"`
	Message   string `json:"message,omitempty"`
	Image     string `json:"image,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Video     string `json:"video,omitempty"`
	Document  string `json:"document,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MessageID string `json:"messageId,omitempty"` // quoted message
}

type zapiSendResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (p *ZAPIProvider) endpointFor(t core_domain.MessageType) (string, error) {
	switch t {
	case core_domain.TypeText:
		return "send-text", nil
	case core_domain.TypeImage:
		return "send-image", nil
	case core_domain.TypeAudio:
		return "send-audio", nil
	case core_domain.TypeVideo:
		return "send-video", nil
	case core_domain.TypeDocument:
		return "send-document", nil
	default:
		return "", fmt.Errorf("unsupported message type %q", t)
	}
}

func (p *ZAPIProvider) Send(ctx context.Context, gw *core_domain.GatewayConfig, details SendRequestDetails) (*SendResponseDetails, error) {
	endpoint, err := p.endpointFor(details.Type)
	if err != nil {
		return nil, &core_domain.ProviderError{Provider: core_domain.ProviderZAPI, Cause: core_domain.CauseGeneric, Message: err.Error()}
	}

	body := zapiSendBody{Phone: details.Phone, MessageID: details.ReplyToID}
	switch details.Type {
	case core_domain.TypeText:
		body.Message = details.Content
	case core_domain.TypeImage:
		body.Image = details.MediaURL
		body.Caption = details.Content
	case core_domain.TypeAudio:
		body.Audio = details.MediaURL
	case core_domain.TypeVideo:
		body.Video = details.MediaURL
		body.Caption = details.Content
	case core_domain.TypeDocument:
		body.Document = details.MediaURL
		body.FileName = details.FileName
	}

	respBytes, statusCode, err := p.doWithAuthRetry(ctx, gw, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp zapiSendResponse
	if unmarshalErr := json.Unmarshal(respBytes, &resp); unmarshalErr != nil {
		p.logger.WarnContext(ctx, "Z-API response body not parseable", "status_code", statusCode, "body", string(respBytes))
	}

	if statusCode >= 200 && statusCode < 300 {
		providerMsgID := resp.MessageID
		if providerMsgID == "" {
			providerMsgID = resp.ID
		}
		return &SendResponseDetails{
			IsSuccess:         true,
			ProviderMessageID: providerMsgID,
			ProviderStatus:    fmt.Sprintf("SENT_ZAPI_%d", statusCode),
		}, nil
	}

	return &SendResponseDetails{
			IsSuccess:      false,
			ProviderStatus: fmt.Sprintf("FAILED_ZAPI_%d", statusCode),
			ErrorMessage:   resp.Error,
		}, &core_domain.ProviderError{
			Provider:   core_domain.ProviderZAPI,
			Cause:      classifyZAPIError(statusCode, resp),
			Message:    firstNonEmpty(resp.Error, resp.Message, fmt.Sprintf("Z-API error: status %d", statusCode)),
			StatusCode: statusCode,
		}
}

// classifyZAPIError maps vendor responses to typed causes.
func classifyZAPIError(statusCode int, resp zapiSendResponse) core_domain.ProviderErrorCause {
	errText := strings.ToLower(resp.Error + " " + resp.Message)
	switch {
	case strings.Contains(errText, "not allowed") || strings.Contains(errText, "plan"):
		return core_domain.CauseUnsupportedMediaPlan
	case statusCode == http.StatusNotFound || strings.Contains(errText, "instance") || strings.Contains(errText, "disconnected"):
		return core_domain.CauseSessionNotFound
	case strings.Contains(errText, "invalid phone") || strings.Contains(errText, "not exists"):
		return core_domain.CauseIdentityResolution
	default:
		return core_domain.CauseGeneric
	}
}

type zapiPhoneExistsResponse struct {
	Exists bool   `json:"exists"`
	ChatID string `json:"chatId"`
	Phone  string `json:"phone"`
}

func (p *ZAPIProvider) CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	respBytes, statusCode, err := p.doWithAuthRetry(ctx, gw, http.MethodGet, "phone-exists/"+phone, nil)
	if err != nil {
		return "", err
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", &core_domain.ProviderError{
			Provider: core_domain.ProviderZAPI, Cause: core_domain.CauseIdentityResolution,
			Message: fmt.Sprintf("phone-exists returned status %d", statusCode), StatusCode: statusCode,
		}
	}
	var resp zapiPhoneExistsResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return "", fmt.Errorf("failed to parse phone-exists response: %w", err)
	}
	if !resp.Exists {
		return "", &core_domain.ProviderError{
			Provider: core_domain.ProviderZAPI, Cause: core_domain.CauseIdentityResolution,
			Message: fmt.Sprintf("phone %s is not a WhatsApp contact", phone),
		}
	}
	if resp.ChatID != "" {
		return resp.ChatID, nil
	}
	return phone + "@c.us", nil
}

type zapiLidResponse struct {
	Phone string `json:"phone"`
}

func (p *ZAPIProvider) ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	respBytes, statusCode, err := p.doWithAuthRetry(ctx, gw, http.MethodGet, "phone-from-lid/"+maskedID, nil)
	if err != nil {
		return "", err
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", ErrContactNotResolved
	}
	var resp zapiLidResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil || resp.Phone == "" {
		return "", ErrContactNotResolved
	}
	return resp.Phone, nil
}

type zapiProfilePictureResponse struct {
	Link string `json:"link"`
}

func (p *ZAPIProvider) FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	respBytes, statusCode, err := p.doWithAuthRetry(ctx, gw, http.MethodGet, "profile-picture?phone="+phone, nil)
	if err != nil {
		return "", ErrAvatarUnavailable
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", ErrAvatarUnavailable
	}
	var resp zapiProfilePictureResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil || resp.Link == "" {
		return "", ErrAvatarUnavailable
	}
	return resp.Link, nil
}

// doWithAuthRetry performs the request, cycling through the known auth
// header encodings while the instance keeps answering unauthorized.
func (p *ZAPIProvider) doWithAuthRetry(ctx context.Context, gw *core_domain.GatewayConfig, method, endpoint string, body any) ([]byte, int, error) {
	var reqBytes []byte
	if body != nil {
		var err error
		reqBytes, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal Z-API request: %w", err)
		}
	}

	url := strings.TrimRight(gw.BaseURL, "/") + "/" + endpoint

	var lastStatus int
	var lastBody []byte
	for i, applyAuth := range zapiAuthEncodings {
		var reader io.Reader
		if reqBytes != nil {
			reader = bytes.NewReader(reqBytes)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create Z-API request: %w", err)
		}
		if reqBytes != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		applyAuth(httpReq, gw.APIKey)

		httpResp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to reach Z-API: %w", err)
		}
		respBytes, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			return nil, httpResp.StatusCode, fmt.Errorf("failed to read Z-API response: %w", readErr)
		}

		if httpResp.StatusCode != http.StatusUnauthorized && httpResp.StatusCode != http.StatusForbidden {
			return respBytes, httpResp.StatusCode, nil
		}

		lastStatus = httpResp.StatusCode
		lastBody = respBytes
		p.logger.WarnContext(ctx, "Z-API rejected auth encoding, retrying with next",
			"encoding_index", i, "status_code", httpResp.StatusCode, "endpoint", endpoint)
	}

	return lastBody, lastStatus, &core_domain.ProviderError{
		Provider:   core_domain.ProviderZAPI,
		Cause:      core_domain.CauseGeneric,
		Message:    fmt.Sprintf("unauthorized after trying %d auth encodings", len(zapiAuthEncodings)),
		StatusCode: lastStatus,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
