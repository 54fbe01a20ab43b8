package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/photodedup/pkg/models"
)

const defaultHTTPTimeout = 30 * time.Second

// ClientConfig configures a model-service client.
type ClientConfig struct {
	// References is required in ModeEmbedding.
	References    *References
	URL           string
	Mode          Mode
	K             int
	ThumbnailSize int
	Timeout       time.Duration
}

// Client sends photo thumbnails to a model service over HTTP and ranks the
// response into a neighbor list.
type Client struct {
	http   *http.Client
	opener Opener
	refs   *References
	url    string
	mode   Mode
	k      int
	size   int
}

type modelResponse struct {
	Error     string    `json:"error,omitempty"`
	Distances []float64 `json:"distances,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// NewClient creates a client that reads photo bytes through opener.
func NewClient(opener Opener, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("extractor URL is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDistances
	}
	if cfg.Mode == ModeEmbedding && cfg.References == nil {
		return nil, fmt.Errorf("extractor mode %s requires a reference file", cfg.Mode)
	}
	if cfg.K <= 0 {
		cfg.K = models.DefaultNeighborCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		opener: opener,
		refs:   cfg.References,
		url:    cfg.URL,
		mode:   cfg.Mode,
		k:      cfg.K,
		size:   cfg.ThumbnailSize,
	}, nil
}

// Extract computes the neighbor list of one photo.
func (c *Client) Extract(ctx context.Context, stub models.PhotoStub) ([]int, error) {
	rc, err := c.opener.Open(ctx, stub.ID)
	if err != nil {
		return nil, fmt.Errorf("open photo %s: %w", stub.ID, err)
	}
	thumb, err := Thumbnail(rc, c.size)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", stub.ID, err)
	}

	resp, err := c.query(ctx, stub.ID, thumb)
	if err != nil {
		return nil, err
	}

	distances := resp.Distances
	if c.mode == ModeEmbedding {
		distances, err = c.refs.Distances(resp.Embedding)
		if err != nil {
			return nil, fmt.Errorf("rank %s: %w", stub.ID, err)
		}
	}
	if len(distances) == 0 {
		return nil, fmt.Errorf("model returned no %s for %s", c.mode, stub.ID)
	}

	return Nearest(distances, c.k), nil
}

func (c *Client) query(ctx context.Context, id string, png []byte) (*modelResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("create model request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Photo-ID", id)
	req.Header.Set("X-Result-Mode", string(c.mode))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send model request to %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model service error (status=%d): %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model response for %s: %w", id, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("model service rejected %s: %s", id, out.Error)
	}
	return &out, nil
}
