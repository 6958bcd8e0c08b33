package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EngagementService is one catalog entry of the engagement provider.
// Rate is the price per 1000 units.
type EngagementService struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
	Min      int             `json:"min"`
	Max      int             `json:"max"`
}

// PriceFor returns the catalog price of quantity units.
func (s EngagementService) PriceFor(quantity int) decimal.Decimal {
	return s.Rate.Mul(decimal.NewFromInt(int64(quantity))).Div(decimal.NewFromInt(1000)).Round(2)
}

// EngagementClient talks to the engagement order provider.
type EngagementClient struct {
	http   *httpClient
	apiURL string
	apiKey string
}

func NewEngagementClient(apiURL, apiKey string, opts Options) *EngagementClient {
	return &EngagementClient{
		http:   newHTTPClient("engagement", opts),
		apiURL: apiURL,
		apiKey: apiKey,
	}
}

type engagementRequest struct {
	Key      string `json:"key"`
	Action   string `json:"action"`
	Service  string `json:"service,omitempty"`
	Link     string `json:"link,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// CreateOrder places an order and returns the provider's order id.
func (c *EngagementClient) CreateOrder(ctx context.Context, serviceID, link string, quantity int) (string, error) {
	body, err := c.http.postJSON(ctx, c.apiURL, engagementRequest{
		Key:      c.apiKey,
		Action:   "add",
		Service:  serviceID,
		Link:     link,
		Quantity: quantity,
	}, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Order flexString `json:"order"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: engagement: decode order: %v", ErrProvider, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: engagement: %s", ErrProvider, resp.Error)
	}
	if resp.Order == "" {
		return "", fmt.Errorf("%w: engagement: order response without id", ErrProvider)
	}
	return string(resp.Order), nil
}

// Services fetches the provider catalog.
func (c *EngagementClient) Services(ctx context.Context) ([]EngagementService, error) {
	body, err := c.http.postJSON(ctx, c.apiURL, engagementRequest{Key: c.apiKey, Action: "services"}, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Service  flexString `json:"service"`
		Name     string     `json:"name"`
		Category string     `json:"category"`
		Rate     flexString `json:"rate"`
		Min      flexString `json:"min"`
		Max      flexString `json:"max"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: engagement: decode services: %v", ErrProvider, err)
	}

	out := make([]EngagementService, 0, len(raw))
	for _, r := range raw {
		rate, err := decimal.NewFromString(string(r.Rate))
		if err != nil {
			rate = decimal.Zero
		}
		out = append(out, EngagementService{
			ID:       string(r.Service),
			Name:     r.Name,
			Category: r.Category,
			Rate:     rate,
			Min:      r.Min.Int(),
			Max:      r.Max.Int(),
		})
	}
	return out, nil
}

// FindService returns the catalog entry with the given id.
func FindService(services []EngagementService, id string) (EngagementService, bool) {
	for _, s := range services {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return EngagementService{}, false
}
