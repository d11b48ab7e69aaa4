// Package assets stores cover images outside the book records. Assets are
// addressed by the ref returned from Put; refs are the public URLs clients
// fetch.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when deleting an asset that does not exist.
	ErrNotFound = errors.New("assets: not found")
	// ErrInvalidRef is returned for refs this store did not issue.
	ErrInvalidRef = errors.New("assets: invalid ref")
)

// Deleter removes an asset by ref.
type Deleter interface {
	Delete(ctx context.Context, ref string) error
}

// Store creates and removes binary assets.
type Store interface {
	Deleter
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

var extensions = map[string]string{
	"image/webp": ".webp",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// newName derives a unique object name for contentType.
func newName(contentType string) string {
	ext, ok := extensions[contentType]
	if !ok {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}

// refFor joins the public base and the object name.
func refFor(baseURL, name string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(name)
}

// nameFromRef extracts the object name from a ref issued under baseURL.
func nameFromRef(baseURL, ref string) (string, error) {
	prefix := strings.TrimRight(baseURL, "/") + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	name, err := url.PathUnescape(strings.TrimPrefix(ref, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || name != path.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return name, nil
}
