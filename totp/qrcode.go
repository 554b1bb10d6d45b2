package totp

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/pquerna/otp"
)

const defaultQRSize = 200

// QRCodeDataURL renders a provisioning URI as a PNG and returns it as a
// data: URL suitable for an <img> tag.
func QRCodeDataURL(uri string, size int) (string, error) {
	if size <= 0 {
		size = defaultQRSize
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", err
	}
	img, err := key.Image(size, size)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
