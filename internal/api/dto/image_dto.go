package dto

import "time"

// ImageResponse describes a stored upload.
type ImageResponse struct {
	ID        string    `json:"imageId"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
