// Package update checks the release feed for newer plugin builds.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Repository holding plugin releases.
const Repository = "PocketRelay/PocketRelayClientPlugin"

const defaultEndpoint = "https://api.github.com/repos/" + Repository + "/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker fetches the latest release tag and compares it against the running
// version.
type Checker struct {
	log      *slog.Logger
	http     *http.Client
	endpoint string
	current  string
}

func NewChecker(log *slog.Logger, current string) *Checker {
	return &Checker{
		log:      log,
		http:     &http.Client{Timeout: 15 * time.Second},
		endpoint: defaultEndpoint,
		current:  current,
	}
}

// Check logs a notice when a newer release than the running version is
// published. Failures only ever cost the notice, never the plugin.
func (c *Checker) Check(ctx context.Context) {
	latest, url, err := c.latest(ctx)
	if err != nil {
		c.log.Error("failed to check for updates", slog.Any("error", err))
		return
	}
	current := canonical(c.current)
	switch semver.Compare(latest, current) {
	case 0:
		c.log.Debug("latest version is installed", slog.String("version", current))
	case -1:
		c.log.Debug("future release is installed", slog.String("version", current))
	default:
		c.log.Info("a newer plugin release is available",
			slog.String("current", current),
			slog.String("latest", latest),
			slog.String("url", url))
	}
}

func (c *Checker) latest(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	res, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("release endpoint returned status %d", res.StatusCode)
	}
	var rel release
	if err := json.NewDecoder(res.Body).Decode(&rel); err != nil {
		return "", "", fmt.Errorf("failed to decode release: %w", err)
	}
	tag := canonical(rel.TagName)
	if !semver.IsValid(tag) {
		return "", "", fmt.Errorf("release tag %q is not a version", rel.TagName)
	}
	return tag, rel.HTMLURL, nil
}

// canonical maps tags like 1.2.3 onto the v1.2.3 form semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
