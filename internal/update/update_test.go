package update

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func checkerFor(t *testing.T, current, body string, status int) (*Checker, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewChecker(log, current)
	c.endpoint = srv.URL
	return c, &buf
}

func TestLatestParsesRelease(t *testing.T) {
	c, _ := checkerFor(t, "1.0.0",
		`{"tag_name":"v1.2.3","html_url":"https://example.com/releases/v1.2.3"}`,
		http.StatusOK)

	tag, url, err := c.latest(context.Background())
	if err != nil {
		t.Fatalf("latest() error = %v", err)
	}
	if tag != "v1.2.3" {
		t.Errorf("tag = %q, want v1.2.3", tag)
	}
	if url != "https://example.com/releases/v1.2.3" {
		t.Errorf("url = %q", url)
	}
}

func TestLatestNormalizesBareTag(t *testing.T) {
	c, _ := checkerFor(t, "1.0.0", `{"tag_name":"1.2.3"}`, http.StatusOK)
	tag, _, err := c.latest(context.Background())
	if err != nil {
		t.Fatalf("latest() error = %v", err)
	}
	if tag != "v1.2.3" {
		t.Errorf("tag = %q, want v1.2.3", tag)
	}
}

func TestLatestRejectsInvalidTag(t *testing.T) {
	c, _ := checkerFor(t, "1.0.0", `{"tag_name":"nightly"}`, http.StatusOK)
	if _, _, err := c.latest(context.Background()); err == nil {
		t.Fatal("latest() should reject a non-version tag")
	}
}

func TestLatestRejectsErrorStatus(t *testing.T) {
	c, _ := checkerFor(t, "1.0.0", `{}`, http.StatusInternalServerError)
	if _, _, err := c.latest(context.Background()); err == nil {
		t.Fatal("latest() should fail on a non-200 status")
	}
}

func TestCheckComparesVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		current    string
		latest     string
		wantNotice bool
	}{
		{name: "newer available", current: "1.0.0", latest: "v1.2.0", wantNotice: true},
		{name: "already latest", current: "1.2.0", latest: "v1.2.0", wantNotice: false},
		{name: "future build installed", current: "9.9.9", latest: "v1.2.0", wantNotice: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c, buf := checkerFor(t, tt.current, `{"tag_name":"`+tt.latest+`"}`, http.StatusOK)
			c.Check(context.Background())

			gotNotice := strings.Contains(buf.String(), "newer plugin release")
			if gotNotice != tt.wantNotice {
				t.Fatalf("notice logged = %v, want %v (log: %s)", gotNotice, tt.wantNotice, buf.String())
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
		{" 1.2.3 ", "v1.2.3"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := canonical(tt.in); got != tt.want {
			t.Errorf("canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
