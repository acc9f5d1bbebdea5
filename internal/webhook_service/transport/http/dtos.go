package http

// WebhookPayload is a tolerant superset of the payload shapes the supported
// gateways deliver. Field names follow the Z-API convention; the Evolution
// and Cloud API shapes are mapped onto it by the handler before
// classification.
type WebhookPayload struct {
	Type       string   `json:"type"` // e.g. ReceivedCallback, MessageStatusCallback
	InstanceID string   `json:"instanceId,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	IDs        []string `json:"ids,omitempty"` // status callbacks may batch ids
	Phone      string   `json:"phone,omitempty"`
	ChatID     string   `json:"chatId,omitempty"`
	ChatName   string   `json:"chatName,omitempty"`
	SenderName string   `json:"senderName,omitempty"`
	SenderLid  string   `json:"senderLid,omitempty"`
	Status     string   `json:"status,omitempty"` // SENT, DELIVERED, READ, PLAYED
	IsGroup    bool     `json:"isGroup,omitempty"`
	Broadcast  bool     `json:"broadcast,omitempty"`
	FromMe     bool     `json:"fromMe,omitempty"`
	Moment     int64    `json:"momment,omitempty"` // epoch millis; vendor spells it this way

	Text     *TextContent  `json:"text,omitempty"`
	Image    *MediaContent `json:"image,omitempty"`
	Audio    *MediaContent `json:"audio,omitempty"`
	Video    *MediaContent `json:"video,omitempty"`
	Document *MediaContent `json:"document,omitempty"`
}

type TextContent struct {
	Message string `json:"message"`
}

type MediaContent struct {
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	DocURL   string `json:"documentUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// BestURL returns whichever URL field the vendor populated.
func (m *MediaContent) BestURL() string {
	for _, u := range []string{m.URL, m.ImageURL, m.AudioURL, m.VideoURL, m.DocURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// WebhookResponse is the terminal body for every webhook delivery.
type WebhookResponse struct {
	Success   bool   `json:"success"`
	Ignored   bool   `json:"ignored,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Event     string `json:"event,omitempty"`
	Status    string `json:"status,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}
