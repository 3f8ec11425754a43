// Package creator is a small client for the creatord REST API.
package creator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Ledger writes wait for confirmation, so it is longer than a plain read needs.
const DefaultHTTPTimeout = 3 * time.Minute

// Role selects which side of an agreement a listing is scoped to.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// Client wraps the HTTP interactions with a creatord daemon.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Session mirrors the connected wallet state of the daemon.
type Session struct {
	Account    string `json:"account,omitempty"`
	Connected  bool   `json:"connected"`
	Network    string `json:"network"`
	Generation uint64 `json:"generation"`
}

// Agreement is one escrow agreement. Amount is a decimal string in the
// network currency.
type Agreement struct {
	ID          uint64     `json:"id"`
	Network     string     `json:"network"`
	Client      string     `json:"client"`
	Provider    string     `json:"provider"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	State       string     `json:"state"`
}

// NewAgreement is the payload of CreateAgreement.
type NewAgreement struct {
	Provider    string     `json:"provider"`
	Amount      string     `json:"amount"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Receipt describes a confirmed agreement write.
type Receipt struct {
	AgreementID uint64 `json:"agreement_id"`
	State       string `json:"state"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Listing groups the agreements of one account by canonical state. Warning is
// set when part of the scan could not be read.
type Listing struct {
	Account   string      `json:"account"`
	Role      Role        `json:"role"`
	Network   string      `json:"network"`
	Total     uint64      `json:"total"`
	Pending   []Agreement `json:"pending"`
	Active    []Agreement `json:"active"`
	Completed []Agreement `json:"completed"`
	Rejected  []Agreement `json:"rejected"`
	Warning   *APIError   `json:"warning,omitempty"`
}

// Dashboard is the display-ready view of a listing.
type Dashboard struct {
	Role     string `json:"role"`
	Account  string `json:"account"`
	Network  string `json:"network"`
	Currency string `json:"currency"`
	Sections []struct {
		Key   string `json:"key"`
		Title string `json:"title"`
		Count int    `json:"count"`
		Empty string `json:"empty,omitempty"`
		Cards []struct {
			ID           uint64   `json:"id"`
			Title        string   `json:"title"`
			Counterparty string   `json:"counterparty"`
			Amount       string   `json:"amount"`
			Deadline     string   `json:"deadline,omitempty"`
			State        string   `json:"state"`
			Actions      []string `json:"actions,omitempty"`
		} `json:"cards"`
	} `json:"sections"`
	Rating *RatingSummary `json:"rating,omitempty"`
}

// RatingSummary is the display form of an aggregate.
type RatingSummary struct {
	Average string `json:"average"`
	Count   uint64 `json:"count"`
	Label   string `json:"label"`
}

// Aggregate is the rating aggregate of a provider. Average is nil when the
// provider has no ratings.
type Aggregate struct {
	Provider string        `json:"provider"`
	Network  string        `json:"network"`
	Average  *string       `json:"average"`
	Total    uint64        `json:"total"`
	Count    uint64        `json:"count"`
	Summary  RatingSummary `json:"summary"`
}

// RatingReceipt describes a confirmed rating.
type RatingReceipt struct {
	Rater       string `json:"rater"`
	Rated       string `json:"rated"`
	Score       int    `json:"score"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// FundCheck is the outcome of a balance check.
type FundCheck struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason"`
	Network    string `json:"network"`
	Currency   string `json:"currency"`
	Balance    string `json:"balance"`
	Required   string `json:"required"`
}

// APIError is a failure reported by the daemon.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("creatord api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("creatord api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the daemon at rawURL. When httpClient is
// nil a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Connect makes account the daemon's connected account.
func (c *Client) Connect(ctx context.Context, account string) (Session, error) {
	var s Session
	err := c.send(ctx, http.MethodPost, "/api/v1/session", nil, map[string]string{"account": account}, &s)
	return s, err
}

// Disconnect clears the connected account.
func (c *Client) Disconnect(ctx context.Context) (Session, error) {
	var s Session
	err := c.send(ctx, http.MethodDelete, "/api/v1/session", nil, nil, &s)
	return s, err
}

// SwitchNetwork activates another configured network.
func (c *Client) SwitchNetwork(ctx context.Context, network string) (Session, error) {
	var s Session
	err := c.send(ctx, http.MethodPost, "/api/v1/session/network", nil, map[string]string{"network": network}, &s)
	return s, err
}

// CreateAgreement funds a new agreement from the connected account.
func (c *Client) CreateAgreement(ctx context.Context, req NewAgreement) (Receipt, error) {
	var r Receipt
	err := c.send(ctx, http.MethodPost, "/api/v1/agreements", nil, req, &r)
	return r, err
}

// Respond accepts or rejects a proposal as the connected provider.
func (c *Client) Respond(ctx context.Context, id uint64, accept bool) (Receipt, error) {
	var r Receipt
	err := c.send(ctx, http.MethodPost, agreementPath(id, "respond"), nil, map[string]bool{"accept": accept}, &r)
	return r, err
}

// MarkCompleted completes an in-progress agreement as the connected provider.
func (c *Client) MarkCompleted(ctx context.Context, id uint64) (Receipt, error) {
	var r Receipt
	err := c.send(ctx, http.MethodPost, agreementPath(id, "complete"), nil, nil, &r)
	return r, err
}

// GetAgreement reads one agreement.
func (c *Client) GetAgreement(ctx context.Context, id uint64) (Agreement, error) {
	var a Agreement
	err := c.send(ctx, http.MethodGet, agreementPath(id, ""), nil, nil, &a)
	return a, err
}

// ListAgreements lists the connected account's agreements in role. refresh
// forces a new ledger scan.
func (c *Client) ListAgreements(ctx context.Context, role Role, refresh bool) (Listing, error) {
	var l Listing
	query := url.Values{"role": {string(role)}}
	var err error
	if refresh {
		err = c.send(ctx, http.MethodPost, "/api/v1/agreements/refresh", query, nil, &l)
	} else {
		err = c.send(ctx, http.MethodGet, "/api/v1/agreements", query, nil, &l)
	}
	return l, err
}

// Dashboard returns the display view of the connected account in role.
func (c *Client) Dashboard(ctx context.Context, role Role) (Dashboard, error) {
	var d Dashboard
	err := c.send(ctx, http.MethodGet, "/api/v1/dashboard", url.Values{"role": {string(role)}}, nil, &d)
	return d, err
}

// SubmitRating rates provider from the connected account.
func (c *Client) SubmitRating(ctx context.Context, provider string, score int) (RatingReceipt, error) {
	var r RatingReceipt
	err := c.send(ctx, http.MethodPost, "/api/v1/ratings", nil, map[string]any{"rated": provider, "score": score}, &r)
	return r, err
}

// Aggregate returns the rating aggregate of provider.
func (c *Client) Aggregate(ctx context.Context, provider string) (Aggregate, error) {
	var a Aggregate
	err := c.send(ctx, http.MethodGet, "/api/v1/ratings/"+url.PathEscape(provider), nil, nil, &a)
	return a, err
}

// CheckFunds asks whether the connected account can fund amount.
func (c *Client) CheckFunds(ctx context.Context, amount string) (FundCheck, error) {
	var f FundCheck
	err := c.send(ctx, http.MethodGet, "/api/v1/funds/check", url.Values{"amount": {amount}}, nil, &f)
	return f, err
}

func agreementPath(id uint64, action string) string {
	p := "/api/v1/agreements/" + strconv.FormatUint(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint)})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
