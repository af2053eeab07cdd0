package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AgencyClient talks to the upstream SMM panel API. Every call is a GET with
// the action and key in the query string.
type AgencyClient struct {
	baseURL string
	key     string
	timeout time.Duration
	hc      *http.Client
}

func NewAgencyClient(baseURL, key string, timeout time.Duration) *AgencyClient {
	return &AgencyClient{
		baseURL: baseURL,
		key:     key,
		timeout: timeout,
		hc:      &http.Client{Timeout: timeout},
	}
}

// flexInt accepts 12, "12" and "12.0".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		*n = flexInt(i)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = flexInt(int(f))
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}

// AgencyStatus is the answer to action=status.
type AgencyStatus struct {
	Status     string
	Remains    int
	Charge     string
	StartCount int
}

// AgencyService is one entry of action=services.
type AgencyService struct {
	ID       int
	Name     string
	Category string
	Rate     string
	Min      int
	Max      int
}

// Place creates an order at the agency and returns its order id.
func (c *AgencyClient) Place(ctx context.Context, apiServiceID int, link string, quantity int) (string, error) {
	var resp struct {
		Order flexString `json:"order"`
		Error string     `json:"error"`
	}
	err := c.call(ctx, url.Values{
		"action":   {"add"},
		"service":  {strconv.Itoa(apiServiceID)},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &FulfillmentError{Reason: resp.Error}
	}
	if resp.Order == "" {
		return "", &FulfillmentError{Reason: "response has no order id"}
	}
	return string(resp.Order), nil
}

func (c *AgencyClient) Status(ctx context.Context, externalID string) (*AgencyStatus, error) {
	var resp struct {
		Status     string     `json:"status"`
		Remains    flexInt    `json:"remains"`
		Charge     flexString `json:"charge"`
		StartCount flexInt    `json:"start_count"`
		Error      string     `json:"error"`
	}
	if err := c.call(ctx, url.Values{"action": {"status"}, "order": {externalID}}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &FulfillmentError{Reason: resp.Error}
	}
	return &AgencyStatus{
		Status:     resp.Status,
		Remains:    int(resp.Remains),
		Charge:     string(resp.Charge),
		StartCount: int(resp.StartCount),
	}, nil
}

func (c *AgencyClient) Services(ctx context.Context) ([]AgencyService, error) {
	var resp []struct {
		Service  flexInt    `json:"service"`
		Name     string     `json:"name"`
		Category string     `json:"category"`
		Rate     flexString `json:"rate"`
		Min      flexInt    `json:"min"`
		Max      flexInt    `json:"max"`
	}
	if err := c.call(ctx, url.Values{"action": {"services"}}, &resp); err != nil {
		return nil, err
	}
	out := make([]AgencyService, 0, len(resp))
	for _, s := range resp {
		out = append(out, AgencyService{
			ID:       int(s.Service),
			Name:     s.Name,
			Category: s.Category,
			Rate:     string(s.Rate),
			Min:      int(s.Min),
			Max:      int(s.Max),
		})
	}
	return out, nil
}

func (c *AgencyClient) call(ctx context.Context, params url.Values, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	params.Set("key", c.key)
	action := params.Get("action")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return &FulfillmentError{Reason: "build " + action + " request", Err: err}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		// the key is in the URL; keep it out of the error text
		if ue, ok := err.(*url.Error); ok {
			err = ue.Err
		}
		return &FulfillmentError{Reason: action + " request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &FulfillmentError{Reason: "read " + action + " response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FulfillmentError{Reason: fmt.Sprintf("%s: http %d", action, resp.StatusCode)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		// an error object where a list was expected
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return &FulfillmentError{Reason: e.Error}
		}
		return &FulfillmentError{Reason: "decode " + action + " response", Err: err}
	}
	return nil
}
