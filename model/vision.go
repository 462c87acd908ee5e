package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const transcribePrompt = `You are an OCR engine.
Transcribe all text visible in the image exactly as written, top to bottom.
Preserve wording, numbers and punctuation. Do not translate, summarize or explain.
Output only the transcribed text.`

// LLaVA reads page images through an Ollama vision model.
type LLaVA struct {
	URL         string
	Model       string
	MaxAttempts int
	client      *http.Client
}

type LLaVARequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p"`
	TopK        int      `json:"top_k"`
	Images      []string `json:"images"`
}

type LLaVAResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewLLaVA(url, model string, timeout time.Duration) *LLaVA {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &LLaVA{URL: url, Model: model, MaxAttempts: 3, client: &http.Client{Timeout: timeout}}
}

// Describe sends one PNG image and returns the streamed transcription.
func (l *LLaVA) Describe(ctx context.Context, png []byte) (string, error) {
	reqBody, err := json.Marshal(LLaVARequest{
		Model:       l.Model,
		Prompt:      transcribePrompt,
		Temperature: 0.05,
		TopP:        0.9,
		TopK:        20,
		Images:      []string{base64.StdEncoding.EncodeToString(png)},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	var b strings.Builder
	for {
		var part LLaVAResponse
		if err := decoder.Decode(&part); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		b.WriteString(part.Response)
		if part.Done {
			break
		}
	}

	slog.Debug("vision transcription done", "model", l.Model, "took", time.Since(start), "chars", b.Len())
	return strings.TrimSpace(b.String()), nil
}

// Recognize retries Describe with a linear backoff until it yields text.
func (l *LLaVA) Recognize(ctx context.Context, png []byte) (string, error) {
	attempts := max(l.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := l.Describe(ctx, png)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty transcription")
		}
		lastErr = err
		slog.Warn("vision attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("vision retry failed after %d attempts: %w", attempts, lastErr)
}
