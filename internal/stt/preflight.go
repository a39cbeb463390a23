package stt

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const deepgramAuthURL = "https://api.deepgram.com/v1/auth/token"

// CheckCredentials verifies the Deepgram API key is accepted without
// opening a live transcription session. Used by the call server's
// origination preflight.
func CheckCredentials(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deepgramAuthURL, nil)
	if err != nil {
		return fmt.Errorf("stt: build credential check request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("stt: credential check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("stt: credentials rejected (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stt: credential check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
