package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCaptchaVerifier validates tokens against a provider's siteverify
// endpoint. Turnstile, hCaptcha and reCAPTCHA all speak this shape:
// form-encoded secret/response/remoteip in, JSON success out.
type HTTPCaptchaVerifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

func NewHTTPCaptchaVerifier(endpoint, secret string) *HTTPCaptchaVerifier {
	return &HTTPCaptchaVerifier{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *HTTPCaptchaVerifier) Verify(ctx context.Context, token, ip string) (bool, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if ip != "" {
		form.Set("remoteip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("captcha request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var body struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("captcha response decode failed: %w", err)
	}
	return body.Success, nil
}

// PassthroughCaptchaVerifier accepts any non-empty token. Development
// only; never wire it in production.
type PassthroughCaptchaVerifier struct{}

func (PassthroughCaptchaVerifier) Verify(ctx context.Context, token, ip string) (bool, error) {
	return token != "", nil
}
