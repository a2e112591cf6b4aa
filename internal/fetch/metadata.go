package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DatasetMeta is the upstream description of one dataset. Fields the
// portal may omit are pointers, nil when absent. Raw holds the verbatim
// response body so the original metadata survives any mapping gaps.
type DatasetMeta struct {
	ID               string
	Title            *string
	Publisher        *string
	Notes            *string
	LicenseID        *string
	LicenseTitle     *string
	LicenseURL       *string
	LicenseCitation  *string
	Maintainer       *string
	MetadataCreated  *string
	MetadataModified *string
	Tags             []string
	Resources        []ResourceMeta
	Raw              json.RawMessage
}

// ResourceMeta describes one downloadable file of a dataset.
type ResourceMeta struct {
	ID       string
	Format   string
	Name     string
	URL      string
	Mimetype string
	Position int
}

// MetadataProvider fetches the upstream description for a dataset id.
type MetadataProvider interface {
	DatasetMetadata(ctx context.Context, datasetID string) (*DatasetMeta, error)
}

// HTTPMetadataProvider reads dataset descriptions from a CKAN-style
// package_show endpoint.
type HTTPMetadataProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPMetadataProvider(baseURL string, httpClient *http.Client) *HTTPMetadataProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPMetadataProvider{baseURL: baseURL, httpClient: httpClient}
}

type packageShowResponse struct {
	Success bool `json:"success"`
	Result  struct {
		ID               string  `json:"id"`
		Title            *string `json:"title"`
		Publisher        *string `json:"publisher"`
		Notes            *string `json:"notes"`
		LicenseID        *string `json:"license_id"`
		LicenseTitle     *string `json:"license_title"`
		LicenseURL       *string `json:"license_url"`
		LicenseCitation  *string `json:"license_citation"`
		Maintainer       *string `json:"maintainer"`
		MetadataCreated  *string `json:"metadata_created"`
		MetadataModified *string `json:"metadata_modified"`
		Tags             []struct {
			Name string `json:"name"`
		} `json:"tags"`
		Resources []struct {
			ID       string `json:"id"`
			Format   string `json:"format"`
			Name     string `json:"name"`
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
			Position int    `json:"position"`
		} `json:"resources"`
	} `json:"result"`
}

func (p *HTTPMetadataProvider) DatasetMetadata(ctx context.Context, datasetID string) (*DatasetMeta, error) {
	endpoint := fmt.Sprintf("%s/package_show?id=%s", p.baseURL, url.QueryEscape(datasetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransientFetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientFetchError{URL: endpoint, Err: fmt.Errorf("upstream returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s fetching metadata for %s", resp.Status, datasetID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientFetchError{URL: endpoint, Err: err}
	}

	var parsed packageShowResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", datasetID, err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("upstream reported failure for dataset %s", datasetID)
	}

	m := &DatasetMeta{
		ID:               parsed.Result.ID,
		Title:            parsed.Result.Title,
		Publisher:        parsed.Result.Publisher,
		Notes:            parsed.Result.Notes,
		LicenseID:        parsed.Result.LicenseID,
		LicenseTitle:     parsed.Result.LicenseTitle,
		LicenseURL:       parsed.Result.LicenseURL,
		LicenseCitation:  parsed.Result.LicenseCitation,
		Maintainer:       parsed.Result.Maintainer,
		MetadataCreated:  parsed.Result.MetadataCreated,
		MetadataModified: parsed.Result.MetadataModified,
		Raw:              json.RawMessage(body),
	}
	if m.ID == "" {
		m.ID = datasetID
	}
	for _, t := range parsed.Result.Tags {
		m.Tags = append(m.Tags, t.Name)
	}
	for _, r := range parsed.Result.Resources {
		m.Resources = append(m.Resources, ResourceMeta(r))
	}
	return m, nil
}
