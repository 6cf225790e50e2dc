package rcs

import "time"

// RBM REST payloads. Field names follow the API's JSON.

type contentMessage struct {
	Text            string        `json:"text,omitempty"`
	ContentInfo     *contentInfo  `json:"contentInfo,omitempty"`
	UploadedRbmFile *uploadedFile `json:"uploadedRbmFile,omitempty"`
	RichCard        *richCard     `json:"richCard,omitempty"`
	Suggestions     []suggestion  `json:"suggestions,omitempty"`
}

type contentInfo struct {
	FileURL      string `json:"fileUrl"`
	ForceRefresh bool   `json:"forceRefresh,omitempty"`
}

type uploadedFile struct {
	FileName string `json:"fileName"`
}

type richCard struct {
	StandaloneCard *standaloneCard `json:"standaloneCard"`
}

type standaloneCard struct {
	CardOrientation string      `json:"cardOrientation"`
	CardContent     cardContent `json:"cardContent"`
}

type cardContent struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Media       *cardMedia `json:"media,omitempty"`
}

type cardMedia struct {
	Height          string        `json:"height"`
	ContentInfo     *contentInfo  `json:"contentInfo,omitempty"`
	UploadedRbmFile *uploadedFile `json:"uploadedRbmFile,omitempty"`
}

type suggestion struct {
	Reply  *suggestedReply  `json:"reply,omitempty"`
	Action *suggestedAction `json:"action,omitempty"`
}

type suggestedReply struct {
	Text         string `json:"text"`
	PostbackData string `json:"postbackData"`
}

type suggestedAction struct {
	Text               string              `json:"text"`
	PostbackData       string              `json:"postbackData"`
	ViewLocationAction *viewLocationAction `json:"viewLocationAction,omitempty"`
}

type viewLocationAction struct {
	LatLong latLng `json:"latLong"`
	Label   string `json:"label,omitempty"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// agentMessage is the API's answer to a send.
type agentMessage struct {
	Name     string    `json:"name"`
	SendTime time.Time `json:"sendTime"`
}

type agentEvent struct {
	EventType string `json:"eventType"`
	MessageID string `json:"messageId,omitempty"`
}

const (
	eventTyping    = "IS_TYPING"
	eventRead      = "READ"
	eventDelivered = "DELIVERED"
)

// pushEnvelope is what the webhook receives: either the handshake or a
// Pub/Sub push wrapping a userEvent.
type pushEnvelope struct {
	ClientToken string       `json:"clientToken"`
	Secret      string       `json:"secret"`
	Message     *pushMessage `json:"message"`
}

type pushMessage struct {
	Data        string    `json:"data"`
	MessageID   string    `json:"messageId"`
	PublishTime time.Time `json:"publishTime"`
}

// userEvent is the decoded data of a push. It is a user message when
// MessageID is set and EventType is empty, an event otherwise.
type userEvent struct {
	SenderPhoneNumber  string              `json:"senderPhoneNumber"`
	AgentID            string              `json:"agentId"`
	MessageID          string              `json:"messageId"`
	EventType          string              `json:"eventType"`
	EventID            string              `json:"eventId"`
	SendTime           string              `json:"sendTime"`
	Text               string              `json:"text"`
	UserFile           *userFile           `json:"userFile"`
	Location           *latLng             `json:"location"`
	SuggestionResponse *suggestionResponse `json:"suggestionResponse"`
	Context            *eventContext       `json:"context"`
}

type userFile struct {
	Payload   fileInfo  `json:"payload"`
	Thumbnail *fileInfo `json:"thumbnail"`
}

type fileInfo struct {
	MimeType      string `json:"mimeType"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	FileURI       string `json:"fileUri"`
	FileName      string `json:"fileName"`
}

type suggestionResponse struct {
	PostbackData string `json:"postbackData"`
	Text         string `json:"text"`
	Type         string `json:"type"`
}

type eventContext struct {
	UserInfo *struct {
		DisplayName string `json:"displayName"`
	} `json:"userInfo"`
}
