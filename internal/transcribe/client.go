package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/domain"
)

// Service is the external speech-to-text collaborator. Implementations fail
// with domain.ErrRateLimited, domain.ErrInvalidAudio, or domain.ErrUnavailable.
type Service interface {
	Transcribe(ctx context.Context, audioPath string, languageHint string) (*domain.Transcript, error)
}

// HTTPService talks to the transcription service over multipart HTTP.
type HTTPService struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: constants.TranscribeTimeout,
		},
	}
}

type transcribeResponse struct {
	Segments []domain.TranscriptSegment `json:"segments"`
	Language string                     `json:"language"`
}

// Transcribe uploads one audio file and returns its timed fragments. Segment
// timestamps in the response are relative to the uploaded audio.
func (s *HTTPService) Transcribe(ctx context.Context, audioPath string, languageHint string) (*domain.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if languageHint != "" {
		if err := mw.WriteField("language", languageHint); err != nil {
			return nil, err
		}
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnsupportedMediaType:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAudio, string(detail))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("transcription service returned status %d", resp.StatusCode)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	return &domain.Transcript{
		Language: tr.Language,
		Segments: tr.Segments,
	}, nil
}

var _ Service = (*HTTPService)(nil)
