package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// VerifyAccount confirms the configured credentials resolve to a live
// account and that the configured from-number is actually owned by it.
// Used by the call server's origination preflight; a failure here means
// origination would be rejected or, worse, silently caller-ID-spoofed.
func (a *Adapter) VerifyAccount(ctx context.Context) error {
	accountURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s.json", a.cfg.AccountSID)

	var account struct {
		Status string `json:"status"`
	}
	if err := a.authedGetJSON(ctx, accountURL, &account); err != nil {
		return fmt.Errorf("verify account: %w", err)
	}
	if account.Status != "active" {
		return fmt.Errorf("telephony account is %q, not active", account.Status)
	}

	numbersURL := fmt.Sprintf(
		"https://api.telephony-provider.example/2010-04-01/Accounts/%s/IncomingPhoneNumbers.json?PhoneNumber=%s",
		a.cfg.AccountSID, url.QueryEscape(a.cfg.FromNumber),
	)
	var numbers struct {
		IncomingPhoneNumbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"incoming_phone_numbers"`
	}
	if err := a.authedGetJSON(ctx, numbersURL, &numbers); err != nil {
		return fmt.Errorf("verify from-number: %w", err)
	}
	if len(numbers.IncomingPhoneNumbers) == 0 {
		return fmt.Errorf("from-number %s is not owned by the configured account", a.cfg.FromNumber)
	}
	return nil
}

// CallStatus polls the provider's current status string for a call. The
// call server's reconciliation loop uses it to advance sessions whose
// terminal webhook never arrived.
func (a *Adapter) CallStatus(ctx context.Context, externalCallSID string) (string, error) {
	apiURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Calls/%s.json",
		a.cfg.AccountSID, externalCallSID)

	var call struct {
		Status string `json:"status"`
	}
	if err := a.authedGetJSON(ctx, apiURL, &call); err != nil {
		return "", fmt.Errorf("poll call status: %w", err)
	}
	return call.Status, nil
}

// DownloadRecording streams one recording as WAV from the provider's
// authenticated media endpoint. The caller owns closing the reader.
func (a *Adapter) DownloadRecording(ctx context.Context, recordingSID string) (io.ReadCloser, error) {
	apiURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Recordings/%s.wav",
		a.cfg.AccountSID, recordingSID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build recording download request: %w", err)
	}
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("telephony provider rejected recording download (HTTP %d): %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func (a *Adapter) authedGetJSON(ctx context.Context, apiURL string, v interface{}) error {
	return a.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("provider returned HTTP %d: %s", resp.StatusCode, string(body))
		}
		return decodeJSON(body, v)
	})
}
