/**
 * @description
 * Package qrimage renders charge payloads into PNG QR codes.
 *
 * @dependencies
 * - github.com/skip2/go-qrcode: QR encoder and PNG writer.
 */
package qrimage

import (
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// PNGRenderer renders payloads with medium error correction.
type PNGRenderer struct {
	size int
}

// NewPNGRenderer returns a renderer producing size x size images. Non-positive
// sizes fall back to DefaultSize.
func NewPNGRenderer(size int) *PNGRenderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &PNGRenderer{size: size}
}

// Render encodes payload as a PNG image.
func (r *PNGRenderer) Render(payload string) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, errors.New("qrimage: empty payload")
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, r.size)
	if err != nil {
		return nil, fmt.Errorf("qrimage: encode failed: %w", err)
	}
	return png, nil
}
