package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// ErrUnsupportedImage is returned for images that are not PNG, JPEG or WebP.
var ErrUnsupportedImage = errors.New("unsupported image format, use PNG, JPEG or WebP images")

const maxImageBytes = 10 << 20

var supportedImageTypes = []string{"image/png", "image/jpeg", "image/webp"}

// imageMediaType returns the media type of a data URL.
func imageMediaType(dataURL string) (string, bool) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", false
	}
	mediaType, _, ok := strings.Cut(rest, ";")
	if !ok {
		return "", false
	}
	return strings.ToLower(mediaType), true
}

// resolveImage turns imageURL into a base64 data URL the model accepts.
// Data URLs are validated as-is; http(s) URLs are downloaded.
func (s *Service) resolveImage(ctx context.Context, imageURL string) (string, error) {
	if strings.HasPrefix(imageURL, "data:") {
		mediaType, ok := imageMediaType(imageURL)
		if !ok || !lo.Contains(supportedImageTypes, mediaType) {
			return "", ErrUnsupportedImage
		}
		return imageURL, nil
	}
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return "", fmt.Errorf("%w: unrecognized image reference", ErrUnsupportedImage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if !lo.Contains(supportedImageTypes, mediaType) {
		return "", ErrUnsupportedImage
	}

	s.logger.Debug().
		Str("method", "resolveImage").
		Str("media_type", mediaType).
		Int("bytes", len(data)).
		Msg("Fetched image")
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
