package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"media-toolkit/internal/domain"
)

const (
	submitFallbackMessage = "processing request failed"

	// EmbeddedFilename names binary payloads, which carry no filename metadata.
	EmbeddedFilename = "Media_Toolkit_Video.mp4"
)

// errMalformedEnvelope marks a JSON response that fits no known result shape.
var errMalformedEnvelope = errors.New("malformed result envelope")

// processRequest is the /process request body.
type processRequest struct {
	URL             string `json:"url"`
	Format          string `json:"format"`
	EnableSegmenter bool   `json:"enable_segmenter"`
	EnableDubber    bool   `json:"enable_dubber"`
}

// processEnvelope is the structured /process response body. Files is either
// a list of {filename} or an object carrying download_url.
type processEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Files   json.RawMessage `json:"files"`
}

type remoteFiles struct {
	DownloadURL string `json:"download_url"`
}

// Submit runs one processing job for desc and returns its normalized result.
// Binary responses are handed to the payload saver before returning.
func (c *Client) Submit(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, processPath, processRequest{
		URL:             desc.URL,
		Format:          desc.Format,
		EnableSegmenter: desc.Features.Segmenter,
		EnableDubber:    desc.Features.Dubber,
	})
	if err != nil {
		return domain.CompletionResult{}, &domain.SubmissionError{Message: submitFallbackMessage, Err: err}
	}
	defer resp.Body.Close()

	return c.classifyResponse(ctx, resp)
}

// classifyResponse turns a /process response into a CompletionResult based on
// its declared content type. It is the only place that inspects result shape.
func (c *Client) classifyResponse(ctx context.Context, resp *http.Response) (domain.CompletionResult, error) {
	contentType := resp.Header.Get("Content-Type")

	if !isSuccess(resp.StatusCode) {
		message := fmt.Sprintf("%s (HTTP %d)", submitFallbackMessage, resp.StatusCode)
		if isJSON(contentType) {
			var env processEnvelope
			if err := readEnvelope(resp.Body, &env); err == nil && env.Error != "" {
				message = env.Error
			}
		}
		return domain.CompletionResult{}, &domain.SubmissionError{Message: message, StatusCode: resp.StatusCode}
	}

	if !isJSON(contentType) {
		return c.saveEmbedded(ctx, resp)
	}

	var env processEnvelope
	if err := readEnvelope(resp.Body, &env); err != nil {
		return domain.CompletionResult{}, &domain.SubmissionError{
			Message:    submitFallbackMessage,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	if !env.Success {
		message := env.Error
		if message == "" {
			message = submitFallbackMessage
		}
		return domain.CompletionResult{}, &domain.SubmissionError{Message: message, StatusCode: resp.StatusCode}
	}

	result, err := decodeFiles(env.Files)
	if err != nil {
		return domain.CompletionResult{}, &domain.SubmissionError{
			Message:    submitFallbackMessage,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return result, nil
}

// decodeFiles resolves the files field into exactly one result variant.
func decodeFiles(raw json.RawMessage) (domain.CompletionResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.CompletionResult{}, fmt.Errorf("%w: missing files", errMalformedEnvelope)
	}

	switch raw[0] {
	case '[':
		var files []domain.OutputFile
		if err := json.Unmarshal(raw, &files); err != nil {
			return domain.CompletionResult{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
		}
		files = lo.Filter(files, func(f domain.OutputFile, _ int) bool {
			return f.Filename != ""
		})
		return domain.FileListResult(files), nil
	case '{':
		var remote remoteFiles
		if err := json.Unmarshal(raw, &remote); err != nil {
			return domain.CompletionResult{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
		}
		if remote.DownloadURL == "" {
			return domain.CompletionResult{}, fmt.Errorf("%w: files object has no download_url", errMalformedEnvelope)
		}
		return domain.DownloadResult(domain.RemoteDownload{URL: remote.DownloadURL}), nil
	default:
		return domain.CompletionResult{}, fmt.Errorf("%w: unexpected files value", errMalformedEnvelope)
	}
}

// saveEmbedded streams a binary body to the payload saver without parsing it.
func (c *Client) saveEmbedded(ctx context.Context, resp *http.Response) (domain.CompletionResult, error) {
	if c.saver == nil {
		return domain.CompletionResult{}, &domain.SubmissionError{
			Message: submitFallbackMessage,
			Err:     errors.New("no payload saver configured"),
		}
	}

	payload, err := c.saver.Save(ctx, EmbeddedFilename, resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return domain.CompletionResult{}, &domain.SubmissionError{
			Message:    "failed to save downloaded file",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	c.logger.Info("embedded payload saved", "path", payload.Path, "bytes", payload.Size)
	return domain.DownloadResult(domain.RemoteDownload{Payload: &payload}), nil
}
