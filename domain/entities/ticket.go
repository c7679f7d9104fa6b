package entities

import "errors"

// UploadTicket is a single-use, pre-authorized upload location.
type UploadTicket struct {
	PresignedURL string `json:"presignedUrl"`
	ObjectKey    string `json:"s3Key"`
}

// Validate ensures both halves of the ticket are present.
func (t *UploadTicket) Validate() error {
	if t.PresignedURL == "" {
		return errors.New("presigned url is required")
	}
	if t.ObjectKey == "" {
		return errors.New("object key is required")
	}
	return nil
}
