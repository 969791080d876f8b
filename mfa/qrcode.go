package mfa

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/pquerna/otp"
)

// QRCodePNG renders the provisioning URI for secretBase32 as a square PNG.
func (m *Manager) QRCodePNG(secretBase32, account string, size int) ([]byte, error) {
	if size <= 0 {
		size = 200
	}
	key, err := otp.NewKeyFromURL(m.ProvisionURI(secretBase32, account))
	if err != nil {
		return nil, fmt.Errorf("parse provisioning uri: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
