// Package superset is a small client for the BI platform's REST API.
//
// It covers what migration needs: session login, listing by name, bundle
// export and import, and a few per-object calls used by maintenance.
package superset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

const (
	// DefaultProvider is the authentication provider used at login.
	DefaultProvider = "db"
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 60 * time.Second
	// DefaultPageSize is the page size used when listing objects.
	DefaultPageSize = 100
)

// Config holds the connection settings of one environment.
type Config struct {
	// APIEndpoint is the API base, e.g. "https://bi.example.com/api/v1".
	APIEndpoint string
	Username    string
	Password    string
	Provider    string
	// RetryMax is the number of retries on transport errors and 5xx responses.
	RetryMax int
	Timeout  time.Duration
	PageSize int
	Logger   *slog.Logger
}

// Summary is the list-level view of a platform object.
type Summary struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	UUID      string    `json:"uuid,omitempty"`
	ChangedOn time.Time `json:"changed_on,omitzero"`
	Published bool      `json:"published,omitempty"`
}

// Client talks to one platform environment. Login happens lazily on the first
// call and the session is reused afterwards. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger *slog.Logger

	mu      sync.Mutex
	token   string
	csrf    string
	session bool
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIEndpoint == "" {
		return nil, deployerrors.ConfigMissing("api_endpoint")
	}
	if _, err := url.Parse(cfg.APIEndpoint); err != nil {
		return nil, deployerrors.ConfigInvalid("api_endpoint", err.Error())
	}
	cfg.APIEndpoint = strings.TrimRight(cfg.APIEndpoint, "/")
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Jar = jar
	rc.Logger = logger.With("component", "superset")
	// Final response is returned as-is so its error message can be reported.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{cfg: cfg, http: rc, logger: logger}, nil
}

// Endpoint returns the API base this client talks to.
func (c *Client) Endpoint() string {
	return c.cfg.APIEndpoint
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session {
		return nil
	}

	body := map[string]any{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"provider": c.cfg.Provider,
		"refresh":  false,
	}
	resp, err := c.send(ctx, http.MethodPost, "/security/login", nil, jsonBody(body), credentials{})
	if err != nil {
		return err
	}
	token := gjson.GetBytes(resp.body, "access_token").String()
	if token == "" {
		return deployerrors.PlatformRequest(http.MethodPost, c.url("/security/login", nil), resp.status, "login response carries no access_token")
	}

	resp, err = c.send(ctx, http.MethodGet, "/security/csrf_token/", nil, nil, credentials{token: token})
	if err != nil {
		return err
	}
	c.token = token
	c.csrf = gjson.GetBytes(resp.body, "result").String()
	c.session = true
	c.logger.Debug("platform session established", "endpoint", c.cfg.APIEndpoint, "user", c.cfg.Username)
	return nil
}

type credentials struct {
	token string
	csrf  string
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(v any) *requestBody {
	data, _ := json.Marshal(v)
	return &requestBody{data: data, contentType: "application/json"}
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) url(path string, query url.Values) string {
	u := c.cfg.APIEndpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call performs an authenticated request.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body *requestBody) (*response, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	creds := credentials{token: c.token, csrf: c.csrf}
	c.mu.Unlock()
	return c.send(ctx, method, path, query, body, creds)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body *requestBody, creds credentials) (*response, error) {
	target := c.url(path, query)

	var payload any
	if body != nil {
		payload = body.data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	if creds.token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.token)
	}
	if creds.csrf != "" {
		req.Header.Set("X-CSRFToken", creds.csrf)
		req.Header.Set("Referer", c.cfg.APIEndpoint)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, deployerrors.PlatformRequest(method, target, 0, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, deployerrors.PlatformRequest(method, target, resp.StatusCode, "read body: "+err.Error()).WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, deployerrors.PlatformRequest(method, target, resp.StatusCode, errorMessage(data))
	}

	c.logger.Debug("platform request", "method", method, "path", path, "status", resp.StatusCode)
	return &response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: data}, nil
}

// errorMessage extracts the platform's error text from a response body.
func errorMessage(body []byte) string {
	for _, key := range []string{"message", "msg", "errors.0.message"} {
		if r := gjson.GetBytes(body, key); r.Exists() {
			if r.IsObject() || r.IsArray() {
				return r.Raw
			}
			return r.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func classPath(c object.Class) string {
	return "/" + c.String()
}

type listQuery struct {
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Filters  []listFilter `json:"filters"`
}

type listFilter struct {
	Col   string `json:"col"`
	Opr   string `json:"opr"`
	Value any    `json:"value"`
}

func (c *Client) list(ctx context.Context, cls object.Class, filters []listFilter) ([]Summary, error) {
	var all []Summary
	for page := 0; ; page++ {
		q, err := json.Marshal(listQuery{Page: page, PageSize: c.cfg.PageSize, Filters: filters})
		if err != nil {
			return nil, fmt.Errorf("encode list query: %w", err)
		}
		resp, err := c.call(ctx, http.MethodGet, classPath(cls)+"/", url.Values{"q": {string(q)}}, nil)
		if err != nil {
			return nil, err
		}
		items := gjson.GetBytes(resp.body, "result").Array()
		if len(items) == 0 {
			return all, nil
		}
		for _, item := range items {
			all = append(all, summaryOf(cls, item))
		}
		if len(items) < c.cfg.PageSize {
			return all, nil
		}
	}
}

func summaryOf(cls object.Class, r gjson.Result) Summary {
	return Summary{
		ID:        int(r.Get("id").Int()),
		Name:      r.Get(cls.NameField()).String(),
		UUID:      r.Get("uuid").String(),
		ChangedOn: parseTime(r.Get("changed_on_utc").String()),
		Published: r.Get("published").Bool(),
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FindByName lists every object of class cls whose display name equals name.
func (c *Client) FindByName(ctx context.Context, cls object.Class, name string) ([]Summary, error) {
	return c.list(ctx, cls, []listFilter{{Col: cls.NameField(), Opr: "eq", Value: name}})
}

// FindAll lists every object of class cls.
func (c *Client) FindAll(ctx context.Context, cls object.Class) ([]Summary, error) {
	return c.list(ctx, cls, []listFilter{})
}

func idList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Export downloads the export bundle of the given objects. Only zip responses
// are accepted.
func (c *Client) Export(ctx context.Context, cls object.Class, ids []int) ([]byte, error) {
	resp, err := c.call(ctx, http.MethodGet, classPath(cls)+"/export/", url.Values{"q": {idList(ids)}}, nil)
	if err != nil {
		return nil, err
	}
	ct := strings.TrimSpace(resp.contentType)
	if !strings.HasPrefix(ct, "application/zip") {
		return nil, deployerrors.UnknownContentType(ct)
	}
	return resp.body, nil
}

// PasswordKey is the bundle member a database password is keyed by.
func PasswordKey(database string) string {
	return object.Database.ArchiveDir() + "/" + database + ".yaml"
}

// Import submits an import bundle. passwords maps database names to secrets.
func (c *Client) Import(ctx context.Context, cls object.Class, archive []byte, overwrite bool, passwords map[string]string) error {
	keyed := make(map[string]string, len(passwords))
	for db, pwd := range passwords {
		keyed[PasswordKey(db)] = pwd
	}
	pw, err := json.Marshal(keyed)
	if err != nil {
		return fmt.Errorf("encode passwords: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("formData", "import_"+cls.String()+".zip")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(archive); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("passwords", string(pw)); err != nil {
		return fmt.Errorf("write passwords field: %w", err)
	}
	if err := mw.WriteField("overwrite", strconv.FormatBool(overwrite)); err != nil {
		return fmt.Errorf("write overwrite field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finish form: %w", err)
	}

	_, err = c.call(ctx, http.MethodPost, classPath(cls)+"/import/", nil,
		&requestBody{data: buf.Bytes(), contentType: mw.FormDataContentType()})
	return err
}

// Get fetches one object.
func (c *Client) Get(ctx context.Context, cls object.Class, id int) (Summary, error) {
	resp, err := c.call(ctx, http.MethodGet, classPath(cls)+"/"+strconv.Itoa(id), nil, nil)
	if err != nil {
		return Summary{}, err
	}
	return summaryOf(cls, gjson.GetBytes(resp.body, "result")), nil
}

// Update changes fields of one object.
func (c *Client) Update(ctx context.Context, cls object.Class, id int, fields map[string]any) error {
	_, err := c.call(ctx, http.MethodPut, classPath(cls)+"/"+strconv.Itoa(id), nil, jsonBody(fields))
	return err
}

// Delete removes objects in bulk. An empty id list is a no-op.
func (c *Client) Delete(ctx context.Context, cls object.Class, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.call(ctx, http.MethodDelete, classPath(cls)+"/", url.Values{"q": {idList(ids)}}, nil)
	return err
}

// DashboardCharts returns the chart ids placed on a dashboard.
func (c *Client) DashboardCharts(ctx context.Context, id int) ([]int, error) {
	resp, err := c.call(ctx, http.MethodGet, classPath(object.Dashboard)+"/"+strconv.Itoa(id)+"/charts", nil, nil)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, r := range gjson.GetBytes(resp.body, "result").Array() {
		ids = append(ids, int(r.Get("id").Int()))
	}
	return ids, nil
}

// HighestID returns the summary with the largest id. ok is false for an empty list.
func HighestID(items []Summary) (Summary, bool) {
	if len(items) == 0 {
		return Summary{}, false
	}
	best := items[0]
	for _, s := range items[1:] {
		if s.ID > best.ID {
			best = s
		}
	}
	return best, true
}
