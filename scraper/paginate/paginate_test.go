package paginate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"estate-crawler/scraper/fetch"
	"estate-crawler/utils"
)

type scriptedGetter struct {
	bodies  map[string]string
	status  map[string]int
	err     error
	fetched []string
}

func (s *scriptedGetter) Fetch(_ context.Context, u string) (*fetch.Response, error) {
	s.fetched = append(s.fetched, u)
	if s.err != nil {
		return nil, s.err
	}
	if code, ok := s.status[u]; ok {
		return &fetch.Response{URL: u, StatusCode: code}, nil
	}
	body, ok := s.bodies[u]
	if !ok {
		return &fetch.Response{URL: u, StatusCode: 404}, nil
	}
	return &fetch.Response{URL: u, StatusCode: 200, Body: []byte(body)}, nil
}

const seed = "https://mb.test/property-for-sale-in-pune-pppfs"

func collect(p *Paginator) []int {
	var nums []int
	for {
		page, ok := p.Next(context.Background())
		if !ok {
			return nums
		}
		nums = append(nums, page.Number)
	}
}

func TestPaginateStopsOnRepeatedContent(t *testing.T) {
	g := &scriptedGetter{bodies: map[string]string{
		PageURL(seed, 1): "h1",
		PageURL(seed, 2): "h2",
		PageURL(seed, 3): "h1",
		PageURL(seed, 4): "h4",
	}}

	got := collect(New(g, seed, 40, nil))
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("pages emitted: got %v, want [1 2]", got)
	}
	if len(g.fetched) != 3 {
		t.Errorf("fetches: got %d (%v), want 3", len(g.fetched), g.fetched)
	}
}

func TestPaginateStopsOn404(t *testing.T) {
	g := &scriptedGetter{bodies: map[string]string{
		PageURL(seed, 1): "a",
		PageURL(seed, 2): "b",
	}}
	p := New(g, seed, 40, nil)
	got := collect(p)
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
	if len(g.fetched) != 3 {
		t.Errorf("fetches: got %d, want 3", len(g.fetched))
	}
	if p.Err() != nil {
		t.Errorf("404 is normal termination, got %v", p.Err())
	}
}

func TestPaginateHonorsMaxPages(t *testing.T) {
	bodies := map[string]string{}
	for i := 1; i <= 10; i++ {
		bodies[PageURL(seed, i)] = fmt.Sprintf("page %d", i)
	}
	g := &scriptedGetter{bodies: bodies}

	got := collect(New(g, seed, 3, nil))
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("got %v", got)
	}
	if len(g.fetched) != 3 {
		t.Errorf("fetches: got %d, want 3", len(g.fetched))
	}
}

func TestPaginateServerErrorEndsWalk(t *testing.T) {
	g := &scriptedGetter{
		bodies: map[string]string{PageURL(seed, 1): "a"},
		status: map[string]int{PageURL(seed, 2): 503},
	}
	p := New(g, seed, 40, nil)
	if got := collect(p); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("got %v", got)
	}
	if p.Err() != nil {
		t.Errorf("unavailable page is not a run error, got %v", p.Err())
	}
}

func TestPaginatePausedReportsErr(t *testing.T) {
	g := &scriptedGetter{err: fetch.ErrPaused}
	p := New(g, seed, 40, nil)
	if got := collect(p); len(got) != 0 {
		t.Errorf("got %v", got)
	}
	if !errors.Is(p.Err(), fetch.ErrPaused) {
		t.Errorf("Err: got %v, want ErrPaused", p.Err())
	}
}

func TestPaginateNotRestartable(t *testing.T) {
	g := &scriptedGetter{bodies: map[string]string{PageURL(seed, 1): "a"}}
	p := New(g, seed, 40, nil)
	collect(p)
	before := len(g.fetched)
	if _, ok := p.Next(context.Background()); ok {
		t.Error("finished paginator should stay finished")
	}
	if len(g.fetched) != before {
		t.Error("finished paginator should not fetch again")
	}
}

func TestPageURL(t *testing.T) {
	if PageURL(seed, 1) != seed {
		t.Errorf("page 1: got %q", PageURL(seed, 1))
	}
	if PageURL(seed, 7) != seed+"/page-7" {
		t.Errorf("page 7: got %q", PageURL(seed, 7))
	}
}

func TestPaginateDisallowedIsQuietSkip(t *testing.T) {
	var buf bytes.Buffer
	g := &scriptedGetter{err: fmt.Errorf("fetch %s: %w", seed, fetch.ErrDisallowed)}
	p := New(g, seed, 40, utils.NewLoggerTo(&buf, "debug"))

	if got := collect(p); len(got) != 0 {
		t.Errorf("pages emitted: got %v", got)
	}
	if p.Err() != nil {
		t.Errorf("a robots block is not an abnormal end: %v", p.Err())
	}
	out := buf.String()
	if !strings.Contains(out, "level=info") || strings.Contains(out, "level=warning") {
		t.Errorf("robots block should log at info only:\n%s", out)
	}
}
