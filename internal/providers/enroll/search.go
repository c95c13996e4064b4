package enroll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coursewatch/internal/domain"
)

// ErrCourseNotFound signals that the search produced no hit whose
// designation matches the query.
var ErrCourseNotFound = errors.New("enroll: course not found")

type searchRequest struct {
	SelectedTerm string         `json:"selectedTerm"`
	QueryString  string         `json:"queryString"`
	Page         int            `json:"page"`
	PageSize     int            `json:"pageSize"`
	SortOrder    string         `json:"sortOrder"`
	Filters      []searchFilter `json:"filters"`
}

type searchFilter struct {
	HasChild hasChildFilter `json:"has_child"`
}

type hasChildFilter struct {
	Type  string      `json:"type"`
	Query searchQuery `json:"query"`
}

type searchQuery struct {
	Bool boolQuery `json:"bool"`
}

type boolQuery struct {
	Must []matchClause `json:"must"`
}

type matchClause struct {
	Match map[string]any `json:"match"`
}

type searchResponse struct {
	Found int         `json:"found"`
	Hits  []searchHit `json:"hits"`
}

type searchHit struct {
	CourseDesignation  string          `json:"courseDesignation"`
	CourseID           string          `json:"courseId"`
	CourseRequirements json.RawMessage `json:"courseRequirements"`
}

// SearchCourse resolves a free-text course name (e.g. "COMP SCI 577") into
// a CourseMatch. The first hit wins if its designation equals the query
// after whitespace removal, case-insensitively; otherwise ErrCourseNotFound.
func (c *Client) SearchCourse(ctx context.Context, query string) (domain.CourseMatch, error) {
	payload := searchRequest{
		SelectedTerm: c.TermID,
		QueryString:  query,
		Page:         1,
		PageSize:     50,
		SortOrder:    "SCORE",
		Filters: []searchFilter{{
			HasChild: hasChildFilter{
				Type: "enrollmentPackage",
				Query: searchQuery{Bool: boolQuery{Must: []matchClause{
					{Match: map[string]any{"packageEnrollmentStatus.status": "OPEN WAITLISTED CLOSED"}},
					{Match: map[string]any{"published": true}},
				}}},
			},
		}},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return domain.CourseMatch{}, fmt.Errorf("enroll: marshal search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(b))
	if err != nil {
		return domain.CourseMatch{}, fmt.Errorf("enroll: build search request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.CourseMatch{}, fmt.Errorf("enroll: search %q: %w", query, err)
	}

	body, err := readBody(resp)
	if err != nil {
		return domain.CourseMatch{}, fmt.Errorf("enroll: read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.CourseMatch{}, fmt.Errorf("enroll: search %q: status=%d body=%s", query, resp.StatusCode, snippet(body, 300))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return domain.CourseMatch{}, fmt.Errorf("enroll: parse search response: %w", err)
	}
	if sr.Found == 0 || len(sr.Hits) == 0 {
		return domain.CourseMatch{}, fmt.Errorf("enroll: search %q: %w", query, ErrCourseNotFound)
	}

	hit := sr.Hits[0]
	if !strings.EqualFold(stripSpace(hit.CourseDesignation), stripSpace(query)) {
		return domain.CourseMatch{}, fmt.Errorf("enroll: search %q: best hit is %q: %w", query, hit.CourseDesignation, ErrCourseNotFound)
	}

	return domain.CourseMatch{
		CourseID:    hit.CourseID,
		Designation: hit.CourseDesignation,
		SectionIDs:  sectionIDsFromRequirements(hit.CourseRequirements),
	}, nil
}

// sectionIDsFromRequirements extracts the section-id list from the
// provider's courseRequirements object. The object carries a single group
// key whose name is not known in advance; the rule is "take the first entry
// of the object in document order".
func sectionIDsFromRequirements(raw json.RawMessage) []string {
	_, val, ok := firstObjectEntry(raw)
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(val))
	dec.UseNumber()
	var entries []any
	if err := dec.Decode(&entries); err != nil {
		return nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			ids = append(ids, v)
		case json.Number:
			ids = append(ids, v.String())
		}
	}
	return ids
}

// firstObjectEntry returns the first key/value pair of a JSON object in
// document order. ok is false when raw is not an object or the object is
// empty.
func firstObjectEntry(raw []byte) (key string, value json.RawMessage, ok bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return "", nil, false
	}
	if d, isDelim := tok.(json.Delim); !isDelim || d != '{' {
		return "", nil, false
	}
	if !dec.More() {
		return "", nil, false
	}

	keyTok, err := dec.Token()
	if err != nil {
		return "", nil, false
	}
	key, isStr := keyTok.(string)
	if !isStr {
		return "", nil, false
	}

	if err := dec.Decode(&value); err != nil {
		return "", nil, false
	}
	return key, value, true
}

func stripSpace(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
