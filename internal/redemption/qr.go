package redemption

import (
	qrcode "github.com/skip2/go-qrcode"
)

// QR image bounds in pixels.
const (
	QRMinSize     = 128
	QRMaxSize     = 1024
	QRDefaultSize = 256
)

// QRRenderer encodes a token as a scannable image.
type QRRenderer interface {
	PNG(content string, size int) ([]byte, error)
}

// PNGRenderer renders PNG QR codes with medium error correction.
type PNGRenderer struct{}

func (PNGRenderer) PNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// ClampQRSize maps a caller size hint to the supported range; 0 picks the default.
func ClampQRSize(hint int) int {
	switch {
	case hint <= 0:
		return QRDefaultSize
	case hint < QRMinSize:
		return QRMinSize
	case hint > QRMaxSize:
		return QRMaxSize
	default:
		return hint
	}
}
