package http

// SendMessageRequest DTO for POST /api/v1/messages/send
type SendMessageRequest struct {
	ConversationID    string            `json:"conversation_id" validate:"required,uuid"`
	Content           string            `json:"content" validate:"required_without=MediaRef,max=65536"`
	Type              string            `json:"type" validate:"omitempty,oneof=text image audio video document"`
	MediaRef          string            `json:"media_ref,omitempty"`
	MediaURL          string            `json:"media_url,omitempty" validate:"omitempty,url"`
	ReplyToExternalID string            `json:"reply_to_external_id,omitempty"`
	AgentID           string            `json:"agent_id,omitempty" validate:"omitempty,uuid"`
	Variables         map[string]string `json:"variables,omitempty"`
}

// SendMessageResponse mirrors what the chat frontends expect: dispatch
// failures still answer 200 with success=false so the UI can show the
// provider's reason inline.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GenericErrorResponse struct {
	Error string `json:"error"`
}
