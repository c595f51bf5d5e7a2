package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrCodeRejected is returned by an Authority when the code is definitively wrong.
	ErrCodeRejected = errors.New("two-factor code rejected")
	// ErrAuthorityUnavailable covers timeouts, transport failures and unexpected replies.
	ErrAuthorityUnavailable = errors.New("two-factor authority unavailable")
)

// Authority checks a code with the external verification service.
type Authority interface {
	Verify(ctx context.Context, userID, code string) error
}

// HTTPAuthority calls POST {base}/v1/verify.
type HTTPAuthority struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type verifyRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// NewHTTPAuthority builds a client throttled to rps outbound calls per second.
func NewHTTPAuthority(baseURL string, timeout time.Duration, rps float64, burst int) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &HTTPAuthority{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return a
}

func (a *HTTPAuthority) Verify(ctx context.Context, userID, code string) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: throttled: %v", ErrAuthorityUnavailable, err)
		}
	}

	body, err := json.Marshal(verifyRequest{UserID: userID, Code: code})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("%w: decode reply: %v", ErrAuthorityUnavailable, err)
		}
		if !out.Valid {
			return ErrCodeRejected
		}
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return ErrCodeRejected
	default:
		return fmt.Errorf("%w: status %d", ErrAuthorityUnavailable, resp.StatusCode)
	}
}
