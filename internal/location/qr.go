package location

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// DefaultQRSize は QR コード PNG の一辺 (px)。
const DefaultQRSize = 256

// LiveViewURL は地点のライブビュー URL を返す。
func LiveViewURL(baseURL string, id uuid.UUID) string {
	return baseURL + "/?" + url.Values{"location": {id.String()}}.Encode()
}

// QRCode renders the live view URL of a location as a PNG.
func QRCode(baseURL string, id uuid.UUID, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(LiveViewURL(baseURL, id), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
