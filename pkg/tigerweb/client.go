// Package tigerweb queries census blocks from the Census Bureau's TIGERweb
// ArcGIS REST service.
package tigerweb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the TIGERweb census blocks layer.
const DefaultBaseURL = "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/Tracts_Blocks/MapServer/12"

// DefaultOutFields are the block attributes requested by default.
var DefaultOutFields = []string{"GEOID", "POP100", "HU100"}

// Client queries a TIGERweb map service layer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL points the client at another layer or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. Zero or less disables
// throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithPageSize sets resultRecordCount; 0 leaves paging to the server.
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = n
	}
}

// NewClient creates a TIGERweb client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SpatialReference is an Esri spatial reference.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Envelope is an Esri envelope geometry.
type Envelope struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// Polygon is an Esri polygon geometry. Exterior rings are clockwise.
type Polygon struct {
	Rings            [][][2]float64    `json:"rings"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Query selects features intersecting either Polygon or Envelope, with
// Polygon taking precedence.
type Query struct {
	Polygon   *Polygon
	Envelope  *Envelope
	WKID      int      // inSR and outSR
	OutFields []string // default DefaultOutFields
}

// Feature is one returned feature.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Polygon       `json:"geometry"`
}

// String returns a string attribute, formatting numbers without exponent.
func (f Feature) String(name string) string {
	switch v := f.Attributes[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Int returns a numeric attribute, 0 when missing or null.
func (f Feature) Int(name string) int64 {
	switch v := f.Attributes[name].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// ServiceError is an error object returned in a 200 response body.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *ServiceError) Error() string {
	msg := "tigerweb: service error " + strconv.Itoa(e.Code) + ": " + e.Message
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// StatusError is a non-200 HTTP response from the service.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "tigerweb: query returned status " + strconv.Itoa(e.StatusCode)
}

type queryResponse struct {
	Features              []Feature     `json:"features"`
	ExceededTransferLimit bool          `json:"exceededTransferLimit"`
	Error                 *ServiceError `json:"error"`
}

// Query returns every feature matching q, following exceededTransferLimit
// with resultOffset until the service reports no more pages.
func (c *Client) Query(ctx context.Context, q Query) ([]Feature, error) {
	form, err := c.form(q)
	if err != nil {
		return nil, err
	}

	var all []Feature
	for offset := 0; ; {
		if offset > 0 {
			form.Set("resultOffset", strconv.Itoa(offset))
		}
		page, err := c.queryPage(ctx, form)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Features...)
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			return all, nil
		}
		offset += len(page.Features)
	}
}

func (c *Client) form(q Query) (url.Values, error) {
	fields := q.OutFields
	if len(fields) == 0 {
		fields = DefaultOutFields
	}
	form := url.Values{
		"where":          {"1=1"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {strings.Join(fields, ",")},
		"returnGeometry": {"true"},
		"f":              {"json"},
	}
	if q.WKID != 0 {
		form.Set("inSR", strconv.Itoa(q.WKID))
		form.Set("outSR", strconv.Itoa(q.WKID))
	}
	if c.pageSize > 0 {
		form.Set("resultRecordCount", strconv.Itoa(c.pageSize))
	}

	var (
		geom     any
		geomType string
	)
	switch {
	case q.Polygon != nil:
		geom, geomType = q.Polygon, "esriGeometryPolygon"
	case q.Envelope != nil:
		geom, geomType = q.Envelope, "esriGeometryEnvelope"
	default:
		return nil, eris.New("tigerweb: query needs a polygon or envelope")
	}
	data, err := json.Marshal(geom)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: encode geometry")
	}
	form.Set("geometry", string(data))
	form.Set("geometryType", geomType)
	return form, nil
}

func (c *Client) queryPage(ctx context.Context, form url.Values) (*queryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "tigerweb: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: read body")
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "tigerweb: parse response")
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return &out, nil
}
