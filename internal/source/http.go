package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/resultexport/internal/normalize"
)

const (
	resultsPath   = "/results"
	statusPath    = "/results/status"
	defaultPage   = 500
	maxErrorBytes = 512
)

var correspondingFields = []string{"candidateId", "productCode", "startTime", "scheduledTestDate"}

// HTTPClient talks to the source system's REST API. Filters are
// rendered in OData syntax.
type HTTPClient struct {
	base  *url.URL
	token string
	hc    *http.Client
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("source base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source base url %q: scheme and host required", baseURL)
	}
	return &HTTPClient{base: u, token: token, hc: &http.Client{Timeout: timeout}}, nil
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// FetchUnprocessed implements Client.
func (c *HTTPClient) FetchUnprocessed(ctx context.Context, q UnprocessedQuery) ([]normalize.RawResult, error) {
	size := q.PageSize
	if size <= 0 {
		size = defaultPage
	}
	params := url.Values{}
	params.Set("$filter", UnprocessedFilter(q))
	params.Set("$orderby", "startTime asc")
	params.Set("$top", strconv.Itoa(size))

	docs, err := fetchAll[json.RawMessage](ctx, c, "fetch unprocessed", c.endpoint(resultsPath, params))
	if err != nil {
		return nil, err
	}
	field := ExportStatusField(q.Stream)
	out := make([]normalize.RawResult, 0, len(docs))
	for _, doc := range docs {
		r, err := decodeResult(doc, field)
		if err != nil {
			return nil, &Error{Op: "fetch unprocessed", Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

// decodeResult decodes doc, taking the export status from the stream's
// own status field.
func decodeResult(doc json.RawMessage, field string) (normalize.RawResult, error) {
	var r normalize.RawResult
	if err := json.Unmarshal(doc, &r); err != nil {
		return r, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return r, err
	}
	r.ExportStatus = ""
	if v, ok := fields[field]; ok {
		var status *string
		if err := json.Unmarshal(v, &status); err != nil {
			return r, fmt.Errorf("%s: %w", field, err)
		}
		if status != nil {
			r.ExportStatus = *status
		}
	}
	return r, nil
}

// FetchCorresponding implements Client.
func (c *HTTPClient) FetchCorresponding(ctx context.Context, q CorrespondingQuery) ([]normalize.RawCorresponding, error) {
	params := url.Values{}
	params.Set("$filter", CorrespondingFilter(q))
	params.Set("$select", strings.Join(correspondingFields, ","))
	params.Set("$orderby", "startTime desc")

	return fetchAll[normalize.RawCorresponding](ctx, c, "fetch corresponding", c.endpoint(resultsPath, params))
}

// ExportStatusField names the source field holding the export status of
// stream. Every stream has its own, so streams selecting the same record
// each export it once.
func ExportStatusField(stream string) string {
	if stream == "" {
		return "exportStatus"
	}
	return stream + "ExportStatus"
}

func exportedAtField(stream string) string {
	if stream == "" {
		return "exportedAt"
	}
	return stream + "ExportedAt"
}

// UpdateStatus implements Client. The batch is committed atomically by
// the source system.
func (c *HTTPClient) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	body := map[string]any{
		"ids":                       u.RecordIDs,
		ExportStatusField(u.Stream): string(u.Status),
	}
	if !u.ExportedAt.IsZero() {
		body[exportedAtField(u.Stream)] = u.ExportedAt.UTC()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: "update status", Err: err}
	}

	resp, err := c.do(ctx, http.MethodPatch, c.endpoint(statusPath, nil), bytes.NewReader(raw))
	if err != nil {
		return &Error{Op: "update status", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return &Error{Op: "update status", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func fetchAll[T any](ctx context.Context, c *HTTPClient, op, next string) ([]T, error) {
	var out []T
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}

		var p page[T]
		err = checkStatus(resp)
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&p)
		}
		resp.Body.Close()
		if err != nil {
			return nil, &Error{Op: op, StatusCode: resp.StatusCode, Err: err}
		}

		out = append(out, p.Value...)
		next = p.NextLink
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *HTTPClient) endpoint(p string, params url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.hc.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	if len(msg) == 0 {
		return errors.New(http.StatusText(resp.StatusCode))
	}
	return errors.New(strings.TrimSpace(string(msg)))
}

// UnprocessedFilter renders q as an OData filter expression.
func UnprocessedFilter(q UnprocessedQuery) string {
	clauses := []string{ExportStatusField(q.Stream) + " eq 'Unprocessed'"}
	if c := anyOf("productCode", q.ProductCodes); c != "" {
		clauses = append(clauses, c)
	}
	statuses := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = string(s)
	}
	if c := anyOf("status", statuses); c != "" {
		clauses = append(clauses, c)
	}
	return strings.Join(clauses, " and ")
}

// CorrespondingFilter renders q as an OData filter expression.
func CorrespondingFilter(q CorrespondingQuery) string {
	return fmt.Sprintf("candidateId eq %s and productCode eq %s", literal(q.CandidateID), literal(q.ProductCode))
}

func anyOf(field string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%s eq %s", field, literal(v))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
