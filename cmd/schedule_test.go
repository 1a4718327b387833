package cmd

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"estate-crawler/metrics"
	"estate-crawler/utils"
)

func TestRouterHealthAndMetrics(t *testing.T) {
	m := metrics.NewMetrics(nil)
	m.ObserveFetch(200)
	srv := httptest.NewServer(newRouter(m))
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "estate_crawler_fetch_requests_total"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s: status %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if !strings.Contains(string(body), tt.body) {
			t.Errorf("%s: body missing %q", tt.path, tt.body)
		}
	}
}

func TestRouterRejectsPost(t *testing.T) {
	srv := httptest.NewServer(newRouter(metrics.NewMetrics(nil)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", resp.StatusCode)
	}
}

func TestCronLoggerDoesNotPanic(t *testing.T) {
	l := cronLogger{utils.NewDiscardLogger()}
	l.Info("start", "entry", 1)
	l.Error(errors.New("boom"), "run", "entry", 1)
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"crawl", "etl", "run", "report", "migrate", "pause", "schedule"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestPauseArgs(t *testing.T) {
	cmd := newPauseCmd()
	tests := []struct {
		args    []string
		wantErr bool
	}{
		{[]string{"on"}, false},
		{[]string{"off"}, false},
		{[]string{"maybe"}, true},
		{nil, true},
	}
	for _, tt := range tests {
		err := cmd.Args(cmd, tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("args %v: err=%v, wantErr=%v", tt.args, err, tt.wantErr)
		}
	}
}
