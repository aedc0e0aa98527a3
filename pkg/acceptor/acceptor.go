// Package acceptor decides whether downloaded bytes are a usable image.
//
// Evaluate performs no I/O: it inspects the response metadata, decodes the
// body and checks the dimensions against the configured bounds. Every
// rejection is a typed error from imgscraper/pkg/errors so the caller can
// count it as a miss.
package acceptor

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strings"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imgscraper/pkg/config"
	errs "imgscraper/pkg/errors"
)

// File extensions chosen for accepted images
const (
	ExtJPEG = ".jpg"
	ExtPNG  = ".png"
)

// Resolution is a width/height pair in pixels
type Resolution struct {
	Width  int
	Height int
}

// Bounds are inclusive min/max dimensions, checked per axis
type Bounds struct {
	Min Resolution
	Max Resolution
}

// BoundsFromConfig converts the configured resolution limits
func BoundsFromConfig(cfg config.ResolutionConfig) Bounds {
	return Bounds{
		Min: Resolution{Width: cfg.Min.Width, Height: cfg.Min.Height},
		Max: Resolution{Width: cfg.Max.Width, Height: cfg.Max.Height},
	}
}

// Contains reports whether width x height lies within b
func (b Bounds) Contains(width, height int) bool {
	return width >= b.Min.Width && width <= b.Max.Width &&
		height >= b.Min.Height && height <= b.Max.Height
}

// AcceptedImage is a decoded image ready to be written to disk
type AcceptedImage struct {
	Image  image.Image
	Format string // decoder name, e.g. "jpeg", "webp"
	Ext    string
	Width  int
	Height int
}

// Evaluate accepts or rejects a downloaded response body
func Evaluate(status int, contentType string, body []byte, bounds Bounds) (*AcceptedImage, error) {
	if status != http.StatusOK {
		return nil, errs.WithCode(errs.ErrorTypeStatus, status, fmt.Sprintf("unexpected status %d", status))
	}

	mediaType := normalizeMediaType(contentType)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, errs.New(errs.ErrorTypeContentType, fmt.Sprintf("content type %q is not an image", contentType))
	}

	// The header is checked before decoding so a forged size never reaches
	// the pixel buffer allocation.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeDecode, "failed to read image header", err)
	}
	if err := checkBounds(cfg.Width, cfg.Height, bounds); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeDecode, "failed to decode image", err)
	}

	size := img.Bounds().Size()
	if err := checkBounds(size.X, size.Y, bounds); err != nil {
		return nil, err
	}

	return &AcceptedImage{
		Image:  img,
		Format: format,
		Ext:    ExtensionFor(mediaType),
		Width:  size.X,
		Height: size.Y,
	}, nil
}

func checkBounds(width, height int, bounds Bounds) error {
	if bounds.Contains(width, height) {
		return nil
	}
	return errs.New(errs.ErrorTypeResolution, fmt.Sprintf("resolution %dx%d outside %dx%d..%dx%d",
		width, height, bounds.Min.Width, bounds.Min.Height, bounds.Max.Width, bounds.Max.Height))
}

// ExtensionFor maps a content type to the extension used on disk
func ExtensionFor(contentType string) string {
	switch normalizeMediaType(contentType) {
	case "image/png":
		return ExtPNG
	default:
		return ExtJPEG
	}
}

// Reason returns a short label for why a candidate was missed
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return string(errs.TypeOf(err))
}

// normalizeMediaType lower-cases the media type and drops parameters
func normalizeMediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Acceptor applies fixed bounds to every evaluation
type Acceptor struct {
	bounds Bounds
}

// New creates an Acceptor for bounds
func New(bounds Bounds) *Acceptor {
	return &Acceptor{bounds: bounds}
}

// Evaluate runs the package level Evaluate with the acceptor's bounds
func (a *Acceptor) Evaluate(status int, contentType string, body []byte) (*AcceptedImage, error) {
	return Evaluate(status, contentType, body, a.bounds)
}
