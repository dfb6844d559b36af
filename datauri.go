package watermark

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	// Decoders for data URIs handed back by hosts, which may re-encode the
	// background image. WebP comes from x/image.
	_ "golang.org/x/image/webp"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// DecodeDataURI decodes a base64 image, with or without a "data:" prefix, and
// reports the detected format ("png", "jpeg", "webp", ...).
func DecodeDataURI(input string) (image.Image, string, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataPrefix(input))
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}
	return image.Decode(bytes.NewReader(data))
}

// PNG returns the raw PNG bytes carried by the pattern.
func (p Pattern) PNG() ([]byte, error) {
	if !strings.HasPrefix(string(p), dataURIPrefix) {
		return nil, fmt.Errorf("pattern is not a PNG data URI")
	}
	data, err := base64.StdEncoding.DecodeString(string(p)[len(dataURIPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// PatternFromCSS extracts the data URI from a background-image value such as
// url("data:image/png;base64,...").
func PatternFromCSS(value string) (Pattern, bool) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "url(") || !strings.HasSuffix(v, ")") {
		return "", false
	}
	v = strings.Trim(strings.TrimSpace(v[4:len(v)-1]), `"'`)
	if !strings.HasPrefix(strings.ToLower(v), "data:") {
		return "", false
	}
	return Pattern(v), true
}

// PatternFromStyle returns the tile carried by an inline style attribute and
// its decoded image. It fails if the background is missing or does not
// decode.
func PatternFromStyle(style string) (Pattern, image.Image, error) {
	bg, ok := ParseStyle(style).Get("background-image")
	if !ok {
		return "", nil, fmt.Errorf("no background-image")
	}
	p, ok := PatternFromCSS(bg)
	if !ok {
		return "", nil, fmt.Errorf("background-image is not a data URI")
	}
	img, err := p.Image()
	if err != nil {
		return "", nil, err
	}
	return p, img, nil
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func stripDataPrefix(input string) string {
	if strings.HasPrefix(strings.ToLower(input), "data:") {
		if idx := strings.IndexByte(input, ','); idx != -1 {
			return input[idx+1:]
		}
	}
	return input
}
