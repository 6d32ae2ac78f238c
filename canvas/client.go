package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canvasledger/cl/errors"
)

const (
	// DefaultPageSize is the per_page value for paginated endpoints.
	// Canvas caps page size at 100.
	DefaultPageSize = 100

	// DefaultTimeout bounds each individual API request.
	DefaultTimeout = 30 * time.Second
)

// Enrollment states requested from the API. Canvas only returns active
// enrollments unless every state is asked for explicitly. Course rosters
// additionally request deleted rows so withdrawals stay visible to the
// ledger.
var (
	selfStates   = []string{"active", "invited", "creation_pending", "rejected", "completed", "inactive"}
	rosterStates = []string{"active", "invited", "creation_pending", "rejected", "completed", "inactive", "deleted"}

	// courseStates widens the course listing to concluded offerings.
	// Without them Canvas only returns courses with a live enrollment.
	courseStates = []string{"unpublished", "available", "completed"}
)

// Config holds Canvas client configuration.
type Config struct {
	BaseURL           string
	Token             string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables client-side rate limiting
	Burst             int
	IncludeConcluded  bool // request concluded courses in catalog listings
	Logger            *zap.SugaredLogger
}

// Client is a read-only Canvas REST API client. It never modifies Canvas
// state.
type Client struct {
	baseURL          string
	token            string
	http             *http.Client
	limiter          *rate.Limiter
	pageSize         int
	includeConcluded bool
	logger           *zap.SugaredLogger
}

// NewClient creates a Canvas API client.
func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		token:            cfg.Token,
		http:             &http.Client{Timeout: cfg.Timeout},
		limiter:          limiter,
		pageSize:         cfg.PageSize,
		includeConcluded: cfg.IncludeConcluded,
		logger:           cfg.Logger,
	}
}

// Courses lists every course visible to the authenticated user,
// regardless of role, with term details embedded. Date-restricted stubs
// are skipped; Canvas returns them in place of courses outside their
// participation window and they carry no usable fields.
func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	url := fmt.Sprintf("%s/api/v1/users/self/courses?include[]=term&per_page=%d", c.baseURL, c.pageSize)
	if c.includeConcluded {
		url += stateParams(courseStates)
	}

	var out []Course
	skipped := 0
	for url != "" {
		body, next, err := c.getPage(ctx, url)
		if err != nil {
			return nil, err
		}
		var page []Course
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode courses"), errors.ErrTransientFetch)
		}
		for i := range page {
			if page[i].AccessRestrictedByDate {
				skipped++
				c.logger.Warnw("skipping course: access restricted by date", "course_id", page[i].ID)
				continue
			}
			out = append(out, page[i])
		}
		url = next
	}
	if skipped > 0 {
		c.logger.Infow("skipped date-restricted courses", "count", skipped)
	}
	return out, nil
}

// SelfEnrollments lists the authenticated user's own enrollments across
// all courses, in every state.
func (c *Client) SelfEnrollments(ctx context.Context) ([]Enrollment, error) {
	url := fmt.Sprintf("%s/api/v1/users/self/enrollments?per_page=%d%s",
		c.baseURL, c.pageSize, stateParams(selfStates))
	return c.collectEnrollments(ctx, url, "self enrollments")
}

// Sections lists the sections of one course.
func (c *Client) Sections(ctx context.Context, courseID int64) ([]Section, error) {
	url := fmt.Sprintf("%s/api/v1/courses/%d/sections?per_page=%d", c.baseURL, courseID, c.pageSize)

	var out []Section
	for url != "" {
		body, next, err := c.getPage(ctx, url)
		if err != nil {
			return nil, err
		}
		var page []Section
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "decode sections for course %d", courseID), errors.ErrTransientFetch)
		}
		out = append(out, page...)
		url = next
	}
	return out, nil
}

// Enrollments lists every enrollment on one course's roster, all roles
// and all states, with user details and grade summaries embedded.
func (c *Client) Enrollments(ctx context.Context, courseID int64) ([]Enrollment, error) {
	url := fmt.Sprintf("%s/api/v1/courses/%d/enrollments?include[]=user&per_page=%d%s",
		c.baseURL, courseID, c.pageSize, stateParams(rosterStates))
	return c.collectEnrollments(ctx, url, fmt.Sprintf("enrollments for course %d", courseID))
}

func (c *Client) collectEnrollments(ctx context.Context, url, what string) ([]Enrollment, error) {
	var out []Enrollment
	for url != "" {
		body, next, err := c.getPage(ctx, url)
		if err != nil {
			return nil, err
		}
		var page []Enrollment
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "decode %s", what), errors.ErrTransientFetch)
		}
		out = append(out, page...)
		url = next
	}
	return out, nil
}

// getPage performs one authenticated GET and returns the response body
// plus the URL of the next page, if any.
func (c *Client) getPage(ctx context.Context, url string) ([]byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", errors.Mark(errors.Wrap(err, "rate limit wait"), errors.ErrTransientFetch)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "build canvas request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "canvas request"), errors.ErrTransientFetch)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "read canvas response"), errors.ErrTransientFetch)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(resp.StatusCode, url, body)
	}
	return body, nextPage(resp.Header.Get("Link")), nil
}

// statusError maps Canvas HTTP failures onto the ledger's error
// taxonomy. An auth failure is transient from the ledger's point of
// view: nothing is wrong with the stored data, only with this fetch.
func statusError(status int, url string, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Mark(errors.WithHint(
			errors.Newf("canvas rejected the API token (status %d): %s", status, detail),
			"check canvas.token in the config file or the CL_CANVAS_TOKEN environment variable"),
			errors.ErrTransientFetch)
	case http.StatusNotFound:
		return errors.NewNotFoundf("canvas resource not found: %s", url)
	default:
		return errors.Mark(
			errors.Newf("canvas returned status %d for %s: %s", status, url, detail),
			errors.ErrTransientFetch)
	}
}

// nextPage extracts the rel="next" URL from a Canvas Link header.
// Canvas follows RFC 5988: comma-separated <url>; rel="..." entries.
func nextPage(link string) string {
	for _, entry := range strings.Split(link, ",") {
		parts := strings.Split(entry, ";")
		if len(parts) < 2 {
			continue
		}
		url := strings.Trim(strings.TrimSpace(parts[0]), "<>")
		for _, param := range parts[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return url
			}
		}
	}
	return ""
}

func stateParams(states []string) string {
	var b strings.Builder
	for _, s := range states {
		b.WriteString("&state[]=")
		b.WriteString(s)
	}
	return b.String()
}
