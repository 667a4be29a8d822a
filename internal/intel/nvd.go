package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"threat-relay/internal/catalog"
	"threat-relay/internal/feed"
)

const (
	NVDEndpoint   = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	NVDSourceName = "NIST NVD"

	nvdWindow     = 7 * 24 * time.Hour
	nvdPageSize   = 20
	nvdLimit      = 5
	nvdMinScore   = 7.0
	nvdDetailBase = "https://nvd.nist.gov/vuln/detail/"
	nvdTimeLayout = "2006-01-02T15:04:05.000Z"
)

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		V31 []nvdMetric `json:"cvssMetricV31"`
		V30 []nvdMetric `json:"cvssMetricV30"`
	} `json:"metrics"`
}

type nvdMetric struct {
	Data struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
		VectorString string  `json:"vectorString"`
	} `json:"cvssData"`
}

// NVD lists the high and critical CVEs published during the last week.
type NVD struct {
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
	logger   *slog.Logger
}

type NVDOption func(*NVD)

func WithEndpoint(u string) NVDOption {
	return func(n *NVD) { n.endpoint = u }
}

func WithAPIKey(key string) NVDOption {
	return func(n *NVD) { n.apiKey = key }
}

func WithHTTPClient(c *http.Client) NVDOption {
	return func(n *NVD) { n.client = c }
}

func WithClock(now func() time.Time) NVDOption {
	return func(n *NVD) { n.now = now }
}

func WithLogger(l *slog.Logger) NVDOption {
	return func(n *NVD) { n.logger = l }
}

func NewNVD(opts ...NVDOption) *NVD {
	n := &NVD{
		endpoint: NVDEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *NVD) Source() catalog.Source {
	return catalog.Source{
		URL:  NVDEndpoint,
		Kind: catalog.KindAPI,
		Metadata: catalog.Metadata{
			Name:     NVDSourceName,
			Category: "cve",
			Priority: catalog.PriorityHigh,
		},
	}
}

func (n *NVD) FetchRecent(ctx context.Context) ([]feed.Entry, error) {
	now := n.now().UTC()
	q := url.Values{}
	q.Set("pubStartDate", now.Add(-nvdWindow).Format(nvdTimeLayout))
	q.Set("pubEndDate", now.Format(nvdTimeLayout))
	q.Set("resultsPerPage", strconv.Itoa(nvdPageSize))

	// noRejected is a valueless flag.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+q.Encode()+"&noRejected", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "threat-relay/1.0")
	if n.apiKey != "" {
		req.Header.Set("apiKey", n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query nvd: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("NVD API responded with unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("nvd responded with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return DecodeNVD(body)
}

// DecodeNVD keeps CVEs with a CVSS v3 base score of at least 7.0, up to five.
func DecodeNVD(payload []byte) ([]feed.Entry, error) {
	var resp nvdResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode nvd response: %w", err)
	}

	var out []feed.Entry
	for _, v := range resp.Vulnerabilities {
		cve := v.CVE
		metric, ok := cve.metric()
		if !ok || cve.ID == "" || metric.Data.BaseScore < nvdMinScore {
			continue
		}

		description := "No description available."
		for _, d := range cve.Descriptions {
			if d.Lang == "en" {
				description = d.Value
				break
			}
		}
		severity := metric.Data.BaseSeverity
		if severity == "" {
			severity = "UNKNOWN"
		}
		score := strconv.FormatFloat(metric.Data.BaseScore, 'f', -1, 64)

		out = append(out, feed.Entry{
			Link:  nvdDetailBase + cve.ID,
			Title: fmt.Sprintf("%s (CVSS %s): %s", cve.ID, score, feed.Truncate(description, 53)),
			Summary: fmt.Sprintf("Severity: %s (%s). Vector: %s. %s",
				severity, score, metric.Data.VectorString, description),
			PublishedAt: parseTime(cve.Published),
		})
		if len(out) >= nvdLimit {
			break
		}
	}
	return out, nil
}

func (c nvdCVE) metric() (nvdMetric, bool) {
	if len(c.Metrics.V31) > 0 {
		return c.Metrics.V31[0], true
	}
	if len(c.Metrics.V30) > 0 {
		return c.Metrics.V30[0], true
	}
	return nvdMetric{}, false
}
