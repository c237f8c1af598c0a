// Package services - QR generation for session join links.
// File: services/qrcode.go
package services

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// GenerateSessionQRCode renders a PNG QR code encoding the judge join URL for
// a scoring session, suitable for printing on the judging table card.
func GenerateSessionQRCode(applicationURL, sessionID string, size int) ([]byte, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID required for QR code")
	}
	joinURL := fmt.Sprintf("%s/join?session_id=%s", applicationURL, url.QueryEscape(sessionID))
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode QR for session %s: %w", sessionID, err)
	}
	return png, nil
}
