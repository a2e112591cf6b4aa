package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllowedHost(t *testing.T) {
	allowList := []string{"data.gv.at", "example.org"}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://data.gv.at/file.csv", true},
		{"https://www.data.gv.at/file.csv", true},
		{"https://notdata.gv.at/file.csv", false},
		{"https://example.org/x", true},
		{"https://example.org.evil.com/x", false},
		{"https://EXAMPLE.ORG/x", true},
		{"://bad-url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AllowedHost(tt.url, allowList), "url %s", tt.url)
	}

	assert.True(t, AllowedHost("https://anywhere.example/x", nil), "empty allow-list permits everything")
}

func TestFixupURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://e-gov. ooe.gv.at/file.csv", "https://e-gov.ooe.gv.at/file.csv"},
		{"https://data.gv.at/file.csv", "https://data.gv.at/file.csv"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FixupURL(tt.url))
	}
}

func TestArchiveSignature(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, "gzip"},
		{"zip", []byte{0x50, 0x4b, 0x03, 0x04, 0x14}, "zip"},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, "zstd"},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, "xz"},
		{"7z", []byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}, "7z"},
		{"rar", []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}, "rar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ok := ArchiveSignature(tt.data)
			require.True(t, ok)
			assert.Equal(t, tt.want, format)
		})
	}

	_, ok := ArchiveSignature([]byte("id,name\n1,a\n"))
	assert.False(t, ok)
	_, ok = ArchiveSignature(nil)
	assert.False(t, ok)
}

func TestFetchResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.csv":
			io.WriteString(w, "a,b\n1,2\n")
		case "/archive.zip":
			w.Write([]byte{0x50, 0x4b, 0x03, 0x04})
		case "/flaky":
			http.Error(w, "upstream broken", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, nil, testLogger())
	ctx := context.Background()

	body, err := client.FetchResource(ctx, srv.URL+"/ok.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))

	_, err = client.FetchResource(ctx, srv.URL+"/archive.zip")
	assert.ErrorIs(t, err, ErrArchiveDetected)

	var transient *TransientFetchError
	_, err = client.FetchResource(ctx, srv.URL+"/flaky")
	assert.ErrorAs(t, err, &transient)

	transient = nil
	_, err = client.FetchResource(ctx, srv.URL+"/missing")
	require.Error(t, err)
	assert.False(t, errors.As(err, &transient), "404 is not transient")
}

func TestFetchResourceDisallowedHost(t *testing.T) {
	client := NewClient(time.Second, []string{"data.gv.at"}, testLogger())

	_, err := client.FetchResource(context.Background(), "https://elsewhere.example/file.csv")
	assert.ErrorIs(t, err, ErrDisallowedSource)
}

func TestHTTPMetadataProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/package_show", r.URL.Path)
		require.Equal(t, "dataset-a", r.URL.Query().Get("id"))
		io.WriteString(w, `{
			"success": true,
			"result": {
				"id": "dataset-a",
				"title": "Population",
				"maintainer": "stats office",
				"tags": [{"name": "population"}, {"name": "districts"}],
				"resources": [
					{"id": "res-1", "format": "CSV", "name": "file", "url": "https://example.org/f.csv", "position": 0}
				]
			}
		}`)
	}))
	defer srv.Close()

	provider := NewHTTPMetadataProvider(srv.URL, srv.Client())
	m, err := provider.DatasetMetadata(context.Background(), "dataset-a")
	require.NoError(t, err)

	assert.Equal(t, "dataset-a", m.ID)
	require.NotNil(t, m.Title)
	assert.Equal(t, "Population", *m.Title)
	assert.Nil(t, m.Publisher, "absent fields stay nil")
	assert.Equal(t, []string{"population", "districts"}, m.Tags)
	require.Len(t, m.Resources, 1)
	assert.Equal(t, "res-1", m.Resources[0].ID)
	assert.Contains(t, string(m.Raw), `"success": true`, "raw body kept verbatim")
}

func TestHTTPMetadataProviderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "rejected":
			io.WriteString(w, `{"success": false}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	provider := NewHTTPMetadataProvider(srv.URL, srv.Client())
	ctx := context.Background()

	var transient *TransientFetchError
	_, err := provider.DatasetMetadata(ctx, "broken")
	assert.ErrorAs(t, err, &transient)

	_, err = provider.DatasetMetadata(ctx, "rejected")
	assert.Error(t, err)

	_, err = provider.DatasetMetadata(ctx, "missing")
	assert.Error(t, err)
}
