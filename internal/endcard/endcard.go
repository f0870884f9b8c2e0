// Package endcard builds the share badge shown at the tail of a video: a
// QR code pointing at the project's share link.
package endcard

import (
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// Badge renders the share link as a QR code px pixels on a side. Medium
// error correction keeps the code scannable after video compression.
func Badge(link string, px int) (image.Image, error) {
	if link == "" {
		return nil, fmt.Errorf("empty share link")
	}
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("building QR badge: %w", err)
	}
	return q.Image(px), nil
}
