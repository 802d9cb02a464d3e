package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/services"
	"github.com/learnwise/cachecore/warming"
)

// httpSources reads warming data from the platform API:
//
//	GET {base}/courses/popular?limit=N
//	GET {base}/courses/{id}/structure
//	GET {base}/courses/{id}/analytics
//	GET {base}/market/snapshot
type httpSources struct {
	base   string
	client *http.Client
	token  string
}

var _ warming.Sources = (*httpSources)(nil)

func newHTTPSources(base, token string) *httpSources {
	return &httpSources{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		token:  token,
	}
}

func (s *httpSources) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "GET %s: decoding", path)
	}
	return nil
}

func (s *httpSources) PopularCourses(ctx context.Context, limit int) ([]services.CourseSummary, error) {
	var out []services.CourseSummary
	err := s.get(ctx, "/courses/popular?limit="+strconv.Itoa(limit), &out)
	return out, err
}

type structureDoc struct {
	Course  json.RawMessage `json:"course"`
	Modules []struct {
		ID      string          `json:"id"`
		Data    json.RawMessage `json:"data"`
		Lessons []struct {
			ID   string          `json:"id"`
			Data json.RawMessage `json:"data"`
		} `json:"lessons"`
	} `json:"modules"`
}

func (s *httpSources) CourseStructure(ctx context.Context, courseID string) (warming.Structure, error) {
	var doc structureDoc
	if err := s.get(ctx, "/courses/"+url.PathEscape(courseID)+"/structure", &doc); err != nil {
		return warming.Structure{}, err
	}
	st := warming.Structure{Course: doc.Course}
	for _, m := range doc.Modules {
		mod := warming.Module{ID: m.ID, Data: m.Data}
		for _, l := range m.Lessons {
			mod.Lessons = append(mod.Lessons, warming.Lesson{ID: l.ID, Data: l.Data})
		}
		st.Modules = append(st.Modules, mod)
	}
	return st, nil
}

func (s *httpSources) CourseAnalytics(ctx context.Context, courseID string) (any, error) {
	var out json.RawMessage
	err := s.get(ctx, "/courses/"+url.PathEscape(courseID)+"/analytics", &out)
	return out, err
}

func (s *httpSources) MarketSnapshot(ctx context.Context) ([]services.TradingData, error) {
	var out []services.TradingData
	err := s.get(ctx, "/market/snapshot", &out)
	return out, err
}
