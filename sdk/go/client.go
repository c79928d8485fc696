package jointlysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a minimal Jointly HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session represents a wizard session snapshot.
type Session struct {
	ID       string         `json:"id"`
	Role     string         `json:"role"`
	Category string         `json:"category"`
	Step     string         `json:"step"`
	Steps    []string       `json:"steps"`
	Answers  map[string]any `json:"answers"`
	Done     bool           `json:"done"`
}

// Submission represents a published record.
type Submission struct {
	ID            string          `json:"id"`
	Role          string          `json:"role"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	SubmittedAt   string          `json:"submitted_at"`
	Verified      bool            `json:"verified"`
}

// Definition describes a wizard flow and its option catalog.
type Definition struct {
	Role     string              `json:"role"`
	Category string              `json:"category"`
	Steps    []string            `json:"steps"`
	Options  map[string][]string `json:"options,omitempty"`
}

// Setbacks are boundary distances; the category label says whether the
// numbers are meters or percentages.
type Setbacks struct {
	Front    float64 `json:"front"`
	Rear     float64 `json:"rear"`
	Sides    float64 `json:"sides"`
	Category string  `json:"category"`
}

// Feasibility is the advisory development estimate.
type Feasibility struct {
	PlotArea           float64  `json:"plotArea"`
	FAR                float64  `json:"far"`
	TotalBuildableArea float64  `json:"totalBuildableArea"`
	NetBuildableArea   float64  `json:"netBuildableArea"`
	Setbacks           Setbacks `json:"setbacks"`
	AllowedFloors      string   `json:"allowedFloors"`
	ApproximateUnits   int      `json:"approximateUnits"`
}

// Event represents a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	Role       string          `json:"role,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartSession opens a wizard session.
func (c *Client) StartSession(ctx context.Context, role, category string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", map[string]string{
		"role":     role,
		"category": category,
	}, &resp)
	return resp, err
}

// Session fetches the current session state.
func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "sessions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetAnswers merges fields into the session.
func (c *Client) SetAnswers(ctx context.Context, id string, answers map[string]any) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPatch, "sessions/"+url.PathEscape(id)+"/answers", map[string]any{
		"answers": answers,
	}, &resp)
	return resp, err
}

// Continue advances the session one step.
func (c *Client) Continue(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions/"+url.PathEscape(id)+"/continue", nil, &resp)
	return resp, err
}

// Back returns the session to the previous step.
func (c *Client) Back(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions/"+url.PathEscape(id)+"/back", nil, &resp)
	return resp, err
}

// Submit freezes the session into a submission.
func (c *Client) Submit(ctx context.Context, id string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "sessions/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

// Definition fetches a wizard's steps and option catalog.
func (c *Client) Definition(ctx context.Context, role, category string) (Definition, error) {
	var resp Definition
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("wizards/%s/%s", url.PathEscape(role), url.PathEscape(category)), nil, &resp)
	return resp, err
}

// Submissions lists a role's records. category and verified may be empty;
// verified accepts yes, no, or all.
func (c *Client) Submissions(ctx context.Context, role, category, verified string) ([]Submission, error) {
	endpoint := "submissions/" + url.PathEscape(role)
	q := url.Values{}
	if category != "" {
		q.Set("type", category)
	}
	if verified != "" {
		q.Set("verified", verified)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Submission
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Feasibility returns the advisory estimate, nil when the dimensions do
// not parse.
func (c *Client) Feasibility(ctx context.Context, dimensions, roadWidth string) (*Feasibility, error) {
	q := url.Values{}
	q.Set("dimensions", dimensions)
	q.Set("road_width", roadWidth)
	var resp struct {
		Feasibility *Feasibility `json:"feasibility"`
	}
	err := c.do(ctx, http.MethodGet, "feasibility?"+q.Encode(), nil, &resp)
	return resp.Feasibility, err
}

// Events tails the activity log.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s", c.BaseURL, endpoint), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
