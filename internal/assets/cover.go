package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ErrUnsupportedImage is returned for uploads that cannot be decoded.
var ErrUnsupportedImage = errors.New("assets: unsupported image")

// CoverContentType is the content type of every processed cover.
const CoverContentType = "image/webp"

// DefaultMaxPixels bounds the declared dimensions of an upload before it is
// decoded. Compressed size alone says nothing about the decoded footprint.
const DefaultMaxPixels = 268402689

// CoverProcessor normalizes uploaded images to the catalog cover format:
// cropped to fill Width x Height and re-encoded as WebP.
type CoverProcessor struct {
	Width   int
	Height  int
	Quality int
	// MaxPixels caps width*height of the source image; zero means DefaultMaxPixels.
	MaxPixels int
}

// Process decodes data (jpeg, png, gif, webp), fills the cover box and
// returns the WebP bytes.
func (p CoverProcessor) Process(data []byte) ([]byte, error) {
	img, err := decodeImage(data, p.maxPixels())
	if err != nil {
		return nil, err
	}
	cover := imaging.Fill(img, p.Width, p.Height, imaging.Center, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, cover, &webp.Options{Quality: float32(p.Quality)}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

func (p CoverProcessor) maxPixels() int {
	if p.MaxPixels > 0 {
		return p.MaxPixels
	}
	return DefaultMaxPixels
}

func decodeImage(data []byte, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)

	isWebP := strings.Contains(ct, "webp")
	if !isWebP && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
	}

	var (
		cfg image.Config
		err error
	)
	if isWebP {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, maxPixels)
	}

	var img image.Image
	if isWebP {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, nil
}
