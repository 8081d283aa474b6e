package splunk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// Sentinel errors for Splunk client failures.
var (
	ErrUnreachable = errors.New("splunk unreachable")
	ErrAuth        = errors.New("splunk rejected the token")
	ErrTimeout     = errors.New("splunk request timeout")
	ErrRequest     = errors.New("splunk request error")
	ErrJobNotFound = errors.New("splunk search job not found")
)

// HTTPClient implements dedup.JobClient and dedup.ResultExtractor using the
// Splunk REST search jobs API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a new Splunk HTTP client.
func NewHTTPClient(cfg config.SplunkConfig) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via SPLUNK_VERIFY_SSL=false
	}

	limit := rate.Inf
	if cfg.SubmitRPS > 0 {
		limit = rate.Limit(cfg.SubmitRPS)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(limit, max(cfg.SubmitBurst, 1)),
	}
}

func (c *HTTPClient) Submit(ctx context.Context, query string, ttl time.Duration) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", classifyError(err)
	}

	form := url.Values{
		"search":      {query},
		"output_mode": {"json"},
		"exec_mode":   {"normal"},
		"ttl":         {strconv.Itoa(int(math.Ceil(ttl.Seconds())))},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/search/jobs", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", requestError(resp)
	}

	var submitResp submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}
	if submitResp.SID == "" {
		return "", fmt.Errorf("%w: submit response without sid", ErrRequest)
	}
	return submitResp.SID, nil
}

func (c *HTTPClient) Status(ctx context.Context, sid string) (models.JobState, error) {
	u := fmt.Sprintf("%s/services/search/jobs/%s?output_mode=json", c.baseURL, url.PathEscape(sid))

	var jobResp jobResponse
	if err := c.getJSON(ctx, u, &jobResp); err != nil {
		return models.JobState{}, err
	}
	if len(jobResp.Entry) == 0 {
		return models.JobState{}, fmt.Errorf("%w: %s", ErrJobNotFound, sid)
	}

	return jobResp.Entry[0].Content.state(), nil
}

// ResultCount sums the "deleted" column of a finished delete job, falling
// back to the number of result rows when the column is absent.
func (c *HTTPClient) ResultCount(ctx context.Context, sid string) (int64, error) {
	rows, err := c.results(ctx, sid)
	if err != nil {
		return 0, err
	}

	var total int64
	sawDeleted := false
	for _, row := range rows {
		v, ok := stringField(row, "deleted")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing deleted count %q: %w", v, err)
		}
		total += n
		sawDeleted = true
	}
	if !sawDeleted {
		return int64(len(rows)), nil
	}
	return total, nil
}

// Extract returns the (eventID, cd) rows of a finished discovery job.
// Rows missing either field are skipped.
func (c *HTTPClient) Extract(ctx context.Context, sid string) ([]models.Candidate, error) {
	rows, err := c.results(ctx, sid)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		id, okID := stringField(row, "eventID")
		cd, okCD := stringField(row, "cd")
		if !okID || !okCD {
			continue
		}
		candidates = append(candidates, models.Candidate{EventID: id, DedupKey: cd})
	}
	return candidates, nil
}

// Ready verifies the token by asking Splunk who we are.
func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/services/authentication/current-context?output_mode=json", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	default:
		return fmt.Errorf("%w: splunk not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
}

func (c *HTTPClient) results(ctx context.Context, sid string) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/services/search/jobs/%s/results?output_mode=json&count=0", c.baseURL, url.PathEscape(sid))

	var resultsResp resultsResponse
	if err := c.getJSON(ctx, u, &resultsResp); err != nil {
		return nil, err
	}
	if resultsResp.Results == nil {
		return []map[string]any{}, nil
	}
	return resultsResp.Results, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, v any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrJobNotFound, resp.Request.URL.Path)
	}
	if resp.StatusCode != http.StatusOK {
		return requestError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding splunk response: %w", err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// requestError builds an ErrRequest from a non-success response, including
// Splunk's own messages when the body carries them.
func requestError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var msgResp struct {
		Messages []jobMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &msgResp); err == nil && len(msgResp.Messages) > 0 {
		return fmt.Errorf("%w: status %d: %s", ErrRequest, resp.StatusCode, joinMessages(msgResp.Messages))
	}
	return fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
}

// stringField reads a result column; multivalue fields yield their first value.
func stringField(row map[string]any, key string) (string, bool) {
	switch v := row[key].(type) {
	case string:
		return v, v != ""
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, true
			}
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

func joinMessages(msgs []jobMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", m.Type, m.Text))
	}
	return strings.Join(parts, "; ")
}

// --- Splunk response types ---

type submitResponse struct {
	SID string `json:"sid"`
}

type jobResponse struct {
	Entry []jobEntry `json:"entry"`
}

type jobEntry struct {
	Content jobContent `json:"content"`
}

type jobContent struct {
	DispatchState string       `json:"dispatchState"`
	IsDone        bool         `json:"isDone"`
	IsFailed      bool         `json:"isFailed"`
	DoneProgress  float64      `json:"doneProgress"`
	Messages      []jobMessage `json:"messages"`
}

type jobMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resultsResponse struct {
	Results []map[string]any `json:"results"`
}

func (c jobContent) state() models.JobState {
	st := models.JobState{Progress: c.DoneProgress}
	switch {
	case c.IsFailed || strings.EqualFold(c.DispatchState, "FAILED"):
		st.Status = models.JobStatusFailed
		st.Message = joinMessages(c.Messages)
	case c.IsDone || strings.EqualFold(c.DispatchState, "DONE"):
		st.Status = models.JobStatusDone
	case strings.EqualFold(c.DispatchState, "QUEUED") || strings.EqualFold(c.DispatchState, "PARSING"):
		st.Status = models.JobStatusPending
	default:
		st.Status = models.JobStatusRunning
	}
	return st
}

// Compile-time checks that HTTPClient implements the dedup collaborators.
var (
	_ dedup.JobClient       = (*HTTPClient)(nil)
	_ dedup.ResultExtractor = (*HTTPClient)(nil)
)
