package domain

import "time"

// MessageType enumerates message kinds.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Valid reports whether the type is known.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// MetadataKind tags which variant a MessageMetadata carries.
type MetadataKind string

const (
	MetadataImage             MetadataKind = "image"
	MetadataInactivityWarning MetadataKind = "inactivity_warning"
	MetadataInactivityClosure MetadataKind = "inactivity_closure"
	MetadataTicketCreated     MetadataKind = "ticket_created"
)

// ImageMetadata describes an uploaded image referenced by a message.
type ImageMetadata struct {
	ImageID  string `json:"imageId"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
}

// MessageMetadata is a tagged payload; only the field matching Kind is set.
type MessageMetadata struct {
	Kind     MetadataKind   `json:"kind"`
	Image    *ImageMetadata `json:"image,omitempty"`
	TicketID string         `json:"ticketId,omitempty"`
}

// ImageMeta wraps image details in a metadata payload.
func ImageMeta(img ImageMetadata) *MessageMetadata {
	return &MessageMetadata{Kind: MetadataImage, Image: &img}
}

// Message is a chat message inside a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     Role
	Content        string
	Type           MessageType
	IsFromAI       bool
	IsInternal     bool
	IsEdited       bool
	Metadata       *MessageMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsFromEndUser reports whether a real end user wrote the message.
func (m *Message) IsFromEndUser() bool {
	if m.IsFromAI || m.Type == MessageTypeSystem {
		return false
	}
	if m.SenderID == AssistantSenderID || m.SenderID == SystemSenderID {
		return false
	}
	return !m.SenderRole.IsOperator()
}

// IsFromOperator reports whether support staff wrote the message.
func (m *Message) IsFromOperator() bool {
	return !m.IsFromAI && m.Type != MessageTypeSystem && m.SenderRole.IsOperator()
}

// RoomMessage is a message posted in an internal room.
type RoomMessage struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderName string
	SenderRole Role
	Content    string
	Type       MessageType
	Metadata   *MessageMetadata
	CreatedAt  time.Time
}
