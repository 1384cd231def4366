package cycle

import (
	"github.com/skip2/go-qrcode"
)

const DefaultQRSize = 256

// QRCode renders the cycle's code as a PNG image.
func QRCode(c Cycle, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	return qrcode.Encode(c.Code, qrcode.Medium, size)
}
