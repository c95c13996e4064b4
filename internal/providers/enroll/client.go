package enroll

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"coursewatch/internal/domain"
	"coursewatch/internal/providers"
)

const (
	defaultBaseURL = "https://public.enroll.wisc.edu/api/search/v1"
	defaultReferer = "https://public.enroll.wisc.edu/"
	defaultTimeout = 15 * time.Second

	acceptJSON = "application/json, text/plain, */*"
)

// UnexpectedFormatError is returned when the provider answers 200 but the
// body is not the JSON array the endpoint normally serves.
type UnexpectedFormatError struct {
	CourseID string
	Body     []byte
}

func (e *UnexpectedFormatError) Error() string {
	return fmt.Sprintf("enroll: unexpected response format for course %s: %s", e.CourseID, snippet(e.Body, 200))
}

// Client talks to the public enrollment API. It owns the session: the
// cookie jar starts empty at process start, is updated after every response
// (success or not), and is never persisted across restarts.
type Client struct {
	BaseURL   string
	TermID    string
	SubjectID string
	UserAgent string
	Referer   string
	HTTP      *http.Client
}

func New(baseURL, termID, subjectID, userAgent string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	// cookiejar.New only fails with non-nil options
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		TermID:    termID,
		SubjectID: subjectID,
		UserAgent: userAgent,
		Referer:   defaultReferer,
		HTTP: &http.Client{
			Timeout: defaultTimeout,
			Jar:     jar,
		},
	}
}

// SeedCookies injects cookies into the session before the first request,
// e.g. a WAF token captured from a browser when the provider blocks cold
// clients.
func (c *Client) SeedCookies(cookies []*http.Cookie) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("enroll: parse base url: %w", err)
	}
	c.HTTP.Jar.SetCookies(u, cookies)
	return nil
}

// FetchCourseSections returns one observation per section of the course.
//
// Classification:
//   - 200 with a JSON array body: parsed observations
//   - 200 with anything else: *UnexpectedFormatError
//   - 202/403/429: error wrapping providers.ErrRateLimited
//   - other statuses and transport failures: plain error
func (c *Client) FetchCourseSections(ctx context.Context, courseID string) ([]domain.SectionObservation, error) {
	endpoint := fmt.Sprintf("%s/enrollmentPackages/%s/%s/%s", c.BaseURL, c.TermID, c.SubjectID, courseID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("enroll: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enroll: fetch course %s: %w", courseID, err)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("enroll: read response for course %s: %w", courseID, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return parsePackages(courseID, body)
	case http.StatusAccepted, http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("enroll: course %s: status=%d: %w", courseID, resp.StatusCode, providers.ErrRateLimited)
	default:
		return nil, fmt.Errorf("enroll: course %s: status=%d body=%s", courseID, resp.StatusCode, snippet(body, 300))
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Referer", c.Referer)
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("Accept-Encoding", "gzip, br")
}

// readBody drains and decodes the response body. Setting Accept-Encoding by
// hand disables the transport's automatic gzip handling, so both encodings
// are decoded here.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// enrollmentPackage mirrors the fields we need from the provider's section
// descriptor. Unknown fields are ignored; the schema is provider-owned.
type enrollmentPackage struct {
	CatalogNumber           string      `json:"catalogNumber"`
	EnrollmentClassNumber   json.Number `json:"enrollmentClassNumber"`
	PackageEnrollmentStatus struct {
		Status string `json:"status"`
	} `json:"packageEnrollmentStatus"`
	Sections []struct {
		Subject struct {
			ShortDescription string `json:"shortDescription"`
		} `json:"subject"`
	} `json:"sections"`
}

func parsePackages(courseID string, body []byte) ([]domain.SectionObservation, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &UnexpectedFormatError{CourseID: courseID, Body: body}
	}

	var pkgs []enrollmentPackage
	if err := json.Unmarshal(trimmed, &pkgs); err != nil {
		return nil, &UnexpectedFormatError{CourseID: courseID, Body: body}
	}

	obs := make([]domain.SectionObservation, 0, len(pkgs))
	for _, p := range pkgs {
		subject := ""
		if len(p.Sections) > 0 {
			subject = p.Sections[0].Subject.ShortDescription
		}
		obs = append(obs, domain.SectionObservation{
			Subject:       subject,
			CatalogNumber: p.CatalogNumber,
			SectionID:     p.EnrollmentClassNumber.String(),
			Status:        domain.ParseStatus(p.PackageEnrollmentStatus.Status),
			CourseID:      courseID,
		})
	}
	return obs, nil
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
