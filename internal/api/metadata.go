package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"media-toolkit/internal/domain"
)

const fetchFallbackMessage = "failed to fetch media info"

// videoInfoEnvelope is the /video-info response body.
type videoInfoEnvelope struct {
	Success   bool         `json:"success"`
	Error     string       `json:"error"`
	Title     string       `json:"title"`
	Uploader  string       `json:"uploader"`
	Thumbnail string       `json:"thumbnail"`
	Duration  *float64     `json:"duration"`
	Views     *float64     `json:"views"`
	Formats   []wireFormat `json:"formats"`
}

// wireFormat is one format entry; the size arrives as mb or filesize_mb.
type wireFormat struct {
	FormatID   flexString `json:"format_id"`
	Quality    string     `json:"quality"`
	MB         sizeValue  `json:"mb"`
	FilesizeMB sizeValue  `json:"filesize_mb"`
}

// sizeValue accepts a number, a numeric string, or a placeholder such as "?".
type sizeValue struct {
	value float64
	known bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *sizeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = sizeValue{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 {
			*s = sizeValue{}
			return nil
		}
		*s = sizeValue{value: v, known: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = sizeValue{value: math.Max(v, 0), known: true}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*f = flexString(raw)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// FetchMetadata resolves url into a media descriptor via /video-info.
func (c *Client) FetchMetadata(ctx context.Context, url string) (domain.MediaDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, videoInfoPath, map[string]string{"url": url})
	if err != nil {
		return domain.MediaDescriptor{}, &domain.FetchError{Message: fetchFallbackMessage, Err: err}
	}
	defer resp.Body.Close()

	var env videoInfoEnvelope
	decodeErr := readEnvelope(resp.Body, &env)

	if !isSuccess(resp.StatusCode) {
		message := env.Error
		if decodeErr != nil || message == "" {
			message = fmt.Sprintf("%s (HTTP %d)", fetchFallbackMessage, resp.StatusCode)
		}
		return domain.MediaDescriptor{}, &domain.FetchError{Message: message, StatusCode: resp.StatusCode}
	}
	if decodeErr != nil {
		return domain.MediaDescriptor{}, &domain.FetchError{
			Message:    fetchFallbackMessage,
			StatusCode: resp.StatusCode,
			Err:        decodeErr,
		}
	}
	if !env.Success {
		message := env.Error
		if message == "" {
			message = fetchFallbackMessage
		}
		return domain.MediaDescriptor{}, &domain.FetchError{Message: message, StatusCode: resp.StatusCode}
	}

	return env.toDomain(), nil
}

// toDomain maps the wire envelope into an immutable media descriptor.
func (e videoInfoEnvelope) toDomain() domain.MediaDescriptor {
	media := domain.MediaDescriptor{
		Title:     e.Title,
		Uploader:  e.Uploader,
		Thumbnail: e.Thumbnail,
	}
	if e.Duration != nil && *e.Duration > 0 {
		media.Duration = int(*e.Duration)
	}
	if e.Views != nil && *e.Views > 0 {
		media.Views = int64(*e.Views)
	}

	entries := lo.Filter(e.Formats, func(f wireFormat, _ int) bool {
		return strings.TrimSpace(string(f.FormatID)) != ""
	})
	entries = lo.UniqBy(entries, func(f wireFormat) string {
		return string(f.FormatID)
	})
	media.Formats = lo.Map(entries, func(f wireFormat, _ int) domain.Format {
		size := f.MB
		if !size.known {
			size = f.FilesizeMB
		}
		return domain.Format{
			ID:        string(f.FormatID),
			Quality:   f.Quality,
			SizeMB:    size.value,
			SizeKnown: size.known,
		}
	})
	return media
}
