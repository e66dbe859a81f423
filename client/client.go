// Package client is a Go client for the batch change API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/dnsbatch/internal/auth"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	defaultMaxPollDelay = 5 * time.Second
	defaultMaxPolls     = 60

	batchChangesPath = "/zones/batchrecordchanges"
)

// ErrWaitExhausted is returned when a batch change is still pending after the poll budget.
var ErrWaitExhausted = errors.New("batch change did not complete in time")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type RecordData struct {
	Address    string `json:"address,omitempty"`
	CName      string `json:"cname,omitempty"`
	PTRDName   string `json:"ptrdname,omitempty"`
	Text       string `json:"text,omitempty"`
	Preference *int   `json:"preference,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
}

type ChangeInput struct {
	ChangeType string     `json:"changeType"`
	InputName  string     `json:"inputName"`
	Type       string     `json:"type"`
	TTL        *int       `json:"ttl,omitempty"`
	Record     RecordData `json:"record"`
}

type BatchChangeInput struct {
	Comments *string       `json:"comments,omitempty"`
	Changes  []ChangeInput `json:"changes"`
}

type SingleChange struct {
	ID            string      `json:"id"`
	ChangeType    string      `json:"changeType"`
	InputName     string      `json:"inputName"`
	RecordName    string      `json:"recordName"`
	ZoneName      string      `json:"zoneName"`
	ZoneID        string      `json:"zoneId"`
	RecordSetID   *string     `json:"recordSetId,omitempty"`
	Type          string      `json:"type"`
	TTL           *int        `json:"ttl,omitempty"`
	Record        *RecordData `json:"record,omitempty"`
	Status        string      `json:"status"`
	SystemMessage *string     `json:"systemMessage,omitempty"`
}

type BatchChange struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	UserName         string         `json:"userName"`
	Comments         *string        `json:"comments,omitempty"`
	CreatedTimestamp time.Time      `json:"createdTimestamp"`
	Status           string         `json:"status"`
	TotalChanges     int            `json:"totalChanges"`
	Changes          []SingleChange `json:"changes"`
}

// Completed reports whether the batch change reached a terminal status.
func (b *BatchChange) Completed() bool {
	switch b.Status {
	case "Complete", "Failed", "PartialFailure":
		return true
	default:
		return false
	}
}

type BatchChangeSummary struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	UserName         string    `json:"userName"`
	Comments         *string   `json:"comments,omitempty"`
	CreatedTimestamp time.Time `json:"createdTimestamp"`
	TotalChanges     int       `json:"totalChanges"`
	Status           string    `json:"status"`
}

type BatchChangeSummaryList struct {
	BatchChanges []BatchChangeSummary `json:"batchChanges"`
	StartFrom    *int                 `json:"startFrom,omitempty"`
	NextID       *int                 `json:"nextId,omitempty"`
	MaxItems     int                  `json:"maxItems"`
}

// ListOptions are optional paging parameters. Nil fields are not sent.
type ListOptions struct {
	StartFrom *int
	MaxItems  *int
}

// WaitOptions bound WaitUntilBatchChangeCompleted. Zero values use defaults.
type WaitOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxPolls    int
}

type Client struct {
	http      *resty.Client
	accessKey string
	secretKey string
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New returns a client that signs every request with the given credentials.
func New(baseURL string, accessKey string, secretKey string) (*Client, error) {
	return NewWithClient(baseURL, accessKey, secretKey, resty.New())
}

func NewWithClient(baseURL string, accessKey string, secretKey string, httpClient *resty.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("access key and secret key are required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	httpClient.SetBaseURL(trimmed)
	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultTimeout)
	}

	return &Client{
		http:      httpClient,
		accessKey: accessKey,
		secretKey: secretKey,
		now:       time.Now,
		sleep:     sleepWithContext,
	}, nil
}

func (c *Client) CreateBatchChange(ctx context.Context, input BatchChangeInput) (*BatchChange, error) {
	var out BatchChange
	resp, err := c.request(ctx, http.MethodPost, batchChangesPath).
		SetBody(input).
		SetResult(&out).
		Post(batchChangesPath)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBatchChange(ctx context.Context, id string) (*BatchChange, error) {
	path := batchChangesPath + "/" + url.PathEscape(id)

	var out BatchChange
	resp, err := c.request(ctx, http.MethodGet, path).
		SetResult(&out).
		Get(path)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBatchChangeSummaries(ctx context.Context, opts ListOptions) (*BatchChangeSummaryList, error) {
	req := c.request(ctx, http.MethodGet, batchChangesPath)
	if opts.StartFrom != nil {
		req.SetQueryParam("startFrom", strconv.Itoa(*opts.StartFrom))
	}
	if opts.MaxItems != nil {
		req.SetQueryParam("maxItems", strconv.Itoa(*opts.MaxItems))
	}

	var out BatchChangeSummaryList
	resp, err := req.SetResult(&out).Get(batchChangesPath)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteRecordSet(ctx context.Context, zoneID string, recordSetID string) error {
	path := "/zones/" + url.PathEscape(zoneID) + "/recordsets/" + url.PathEscape(recordSetID)
	resp, err := c.request(ctx, http.MethodDelete, path).Delete(path)
	return checkResponse(resp, err)
}

// WaitUntilBatchChangeCompleted polls with exponential backoff until the batch change is terminal.
func (c *Client) WaitUntilBatchChangeCompleted(ctx context.Context, id string, opts WaitOptions) (*BatchChange, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxInterval := opts.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxPollDelay
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	var last *BatchChange
	for poll := 0; poll < maxPolls; poll++ {
		batch, err := c.GetBatchChange(ctx, id)
		if err != nil {
			return nil, err
		}
		if batch.Completed() {
			return batch, nil
		}
		last = batch

		if poll == maxPolls-1 {
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			return last, err
		}
		interval = min(interval*2, maxInterval)
	}

	return last, fmt.Errorf("%w: %s still %s after %d polls", ErrWaitExhausted, id, last.Status, maxPolls)
}

// request signs the path only; the query string is not covered by the signature.
func (c *Client) request(ctx context.Context, method string, path string) *resty.Request {
	date := c.now().UTC().Format(time.RFC3339)
	return c.http.R().
		SetContext(ctx).
		SetHeader(auth.HeaderAccessKey, c.accessKey).
		SetHeader(auth.HeaderDate, date).
		SetHeader(auth.HeaderSignature, auth.Sign(c.secretKey, method, path, date)).
		SetError(&errorBody{})
}

type errorBody struct {
	Error string `json:"error"`
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
