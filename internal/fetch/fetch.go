package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrDisallowedSource = errors.New("resource host not on the allow-list")
	ErrArchiveDetected  = errors.New("resource is a compressed archive")
)

// TransientFetchError marks download failures that are worth retrying on
// a later run: network errors, timeouts and upstream 5xx responses. The
// pipeline records the failure and moves on to the next resource.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure for %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// archiveMagic maps leading byte signatures to the archive format they
// identify. Archives are rejected rather than unpacked.
var archiveMagic = []struct {
	prefix []byte
	name   string
}{
	{[]byte{0x1f, 0x8b}, "gzip"},
	{[]byte{0x50, 0x4b, 0x03, 0x04}, "zip"},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, "zstd"},
	{[]byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, "xz"},
	{[]byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}, "7z"},
	{[]byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}, "rar"},
}

// ArchiveSignature reports whether data starts with a known archive
// magic number, and which format matched.
func ArchiveSignature(data []byte) (string, bool) {
	for _, m := range archiveMagic {
		if bytes.HasPrefix(data, m.prefix) {
			return m.name, true
		}
	}
	return "", false
}

// urlFixups repairs source URLs that upstream portals publish broken.
// Keyed by the broken fragment; applied to every URL before fetching.
var urlFixups = map[string]string{
	"e-gov. ooe.gv.at": "e-gov.ooe.gv.at",
}

// FixupURL applies the known URL repairs. URLs without a broken
// fragment pass through unchanged.
func FixupURL(rawURL string) string {
	for broken, fixed := range urlFixups {
		rawURL = strings.ReplaceAll(rawURL, broken, fixed)
	}
	return rawURL
}

// AllowedHost reports whether the URL's hostname matches one of the
// configured suffixes. An empty allow-list permits everything. Suffix
// matching is on dot boundaries, so "data.gv.at" matches
// "www.data.gv.at" but not "notdata.gv.at".
func AllowedHost(rawURL string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range allowList {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Client downloads resource bodies over HTTP with a bounded timeout and
// an allow-list of source hosts.
type Client struct {
	httpClient  *http.Client
	allowedHost []string
	logger      *slog.Logger
}

func NewClient(timeout time.Duration, allowedHostSuffixes []string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		allowedHost: allowedHostSuffixes,
		logger:      logger,
	}
}

// FetchResource downloads the resource body, after repairing the URL
// with FixupURL. Disallowed hosts and archive payloads return their
// sentinel errors; anything that could succeed on a retry is wrapped
// in a TransientFetchError.
func (c *Client) FetchResource(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = FixupURL(rawURL)
	if !AllowedHost(rawURL, c.allowedHost) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowedSource, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientFetchError{URL: rawURL, Err: fmt.Errorf("upstream returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientFetchError{URL: rawURL, Err: err}
	}

	if format, ok := ArchiveSignature(body); ok {
		return nil, fmt.Errorf("%w: %s payload at %s", ErrArchiveDetected, format, rawURL)
	}

	c.logger.Debug("Resource fetched",
		slog.String("url", rawURL),
		slog.Int("bytes", len(body)),
	)
	return body, nil
}
