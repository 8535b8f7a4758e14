package whatsapp

import (
	"encoding/base64"
	"strings"

	"rsc.io/qr"

	"github.com/talkincode/wamux/internal/errors"
)

const pngDataURLPrefix = "data:image/png;base64,"

// RenderQR encodes a login challenge as a PNG data URL.
func RenderQR(code string) (string, error) {
	if code == "" {
		return "", errors.NewInvalidArgument("qr", "", "empty qr code")
	}
	c, err := qr.Encode(code, qr.M)
	if err != nil {
		return "", err
	}
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(c.PNG()), nil
}

// DecodeQR returns the PNG bytes of a data URL made by RenderQR.
func DecodeQR(dataURL string) ([]byte, error) {
	if !strings.HasPrefix(dataURL, pngDataURLPrefix) {
		return nil, errors.NewInvalidArgument("qr", "", "not a png data url")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, pngDataURLPrefix))
}
