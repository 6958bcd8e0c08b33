package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Activation is a rented phone number waiting for a verification SMS.
type Activation struct {
	ID          string `json:"activation_id"`
	PhoneNumber string `json:"phone_number"`
	ServiceCode string `json:"service_code"`
}

// CodeStatus is one poll result for an activation.
type CodeStatus struct {
	Received bool
	Code     string
}

const (
	activationStatusConfirm = 6
	activationStatusCancel  = 8
)

// NumberClient talks to the SMS activation provider's text protocol.
type NumberClient struct {
	http    *httpClient
	baseURL string
	apiKey  string
	country string
}

func NewNumberClient(baseURL, apiKey, country string, opts Options) *NumberClient {
	return &NumberClient{
		http:    newHTTPClient("numbers", opts),
		baseURL: baseURL,
		apiKey:  apiKey,
		country: country,
	}
}

func (c *NumberClient) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("numbers: build request: %w", err)
	}
	body, err := c.http.do(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// PurchaseNumber rents a number for serviceCode in the configured country,
// or in country when it is non-empty.
func (c *NumberClient) PurchaseNumber(ctx context.Context, serviceCode, country string) (*Activation, error) {
	if country == "" {
		country = c.country
	}
	reply, err := c.call(ctx, url.Values{
		"action":  {"getNumber"},
		"service": {serviceCode},
		"country": {country},
	})
	if err != nil {
		return nil, err
	}

	// ACCESS_NUMBER:<activation id>:<phone number>
	parts := strings.Split(reply, ":")
	if len(parts) != 3 || parts[0] != "ACCESS_NUMBER" {
		return nil, fmt.Errorf("%w: numbers: %s", ErrProvider, reply)
	}
	return &Activation{ID: parts[1], PhoneNumber: parts[2], ServiceCode: serviceCode}, nil
}

// CodeStatus performs a single status query for an activation.
func (c *NumberClient) CodeStatus(ctx context.Context, activationID string) (CodeStatus, error) {
	reply, err := c.call(ctx, url.Values{"action": {"getStatus"}, "id": {activationID}})
	if err != nil {
		return CodeStatus{}, err
	}
	switch {
	case strings.HasPrefix(reply, "STATUS_OK:"):
		return CodeStatus{Received: true, Code: strings.TrimPrefix(reply, "STATUS_OK:")}, nil
	case strings.HasPrefix(reply, "STATUS_WAIT"):
		return CodeStatus{}, nil
	default:
		// STATUS_CANCEL, NO_ACTIVATION and the like are final answers.
		return CodeStatus{}, fmt.Errorf("%w: %w: numbers: %s", ErrProvider, ErrActivationEnded, reply)
	}
}

// WaitForVerificationCode polls CodeStatus at most maxAttempts times,
// sleeping interval before each attempt. It returns ErrTimeout after the
// last unsuccessful attempt. A failed HTTP poll counts as an attempt; a
// reply wrapping ErrActivationEnded stops the wait at once.
func (c *NumberClient) WaitForVerificationCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, error) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		status, err := c.CodeStatus(ctx, activationID)
		if errors.Is(err, ErrActivationEnded) {
			return "", err
		}
		if err == nil && status.Received {
			return status.Code, nil
		}
		timer.Reset(interval)
	}
	return "", fmt.Errorf("%w: activation %s after %d attempts", ErrTimeout, activationID, maxAttempts)
}

// ConfirmActivation tells the provider the code was used.
func (c *NumberClient) ConfirmActivation(ctx context.Context, activationID string) error {
	return c.setStatus(ctx, activationID, activationStatusConfirm)
}

// CancelActivation releases a number that never received a code.
func (c *NumberClient) CancelActivation(ctx context.Context, activationID string) error {
	return c.setStatus(ctx, activationID, activationStatusCancel)
}

func (c *NumberClient) setStatus(ctx context.Context, activationID string, status int) error {
	_, err := c.call(ctx, url.Values{
		"action": {"setStatus"},
		"status": {strconv.Itoa(status)},
		"id":     {activationID},
	})
	return err
}
