package domain

import "time"

// Image is a stored binary upload.
type Image struct {
	ID             string
	ConversationID string
	UploaderID     string
	Filename       string
	MimeType       string
	Size           int64
	Checksum       string
	Data           []byte
	CreatedAt      time.Time
}
