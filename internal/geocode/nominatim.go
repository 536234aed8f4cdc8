package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/clean-matching/internal/models"
)

// HTTPClient queries a Nominatim-compatible /search endpoint.
type HTTPClient struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, UserAgent: "clean-matching/1.0", Client: &http.Client{Timeout: 3 * time.Second}}
}

// Lookup asks for the single best match of address.
func (h *HTTPClient) Lookup(ctx context.Context, address string) (models.Coord, bool, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return models.Coord{}, false, err
	}
	req.Header.Set("User-Agent", h.UserAgent)
	resp, err := h.Client.Do(req)
	if err != nil {
		return models.Coord{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Coord{}, false, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coord{}, false, err
	}
	if len(out) == 0 {
		return models.Coord{}, false, nil
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("geocoder lat: %w", err)
	}
	lon, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("geocoder lon: %w", err)
	}
	return models.Coord{Lat: lat, Lon: lon}, true, nil
}
