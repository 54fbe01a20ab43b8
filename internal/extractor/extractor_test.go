package extractor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/photodedup/pkg/models"
)

func TestNearest(t *testing.T) {
	distances := []float64{0.9, 0.1, 0.5, 0.3, 0.7}

	assert.Equal(t, []int{1, 3, 2}, Nearest(distances, 3))
	assert.Equal(t, []int{1, 3, 2, 4, 0}, Nearest(distances, 10), "k larger than the reference set")
	assert.Equal(t, []float64{0.9, 0.1, 0.5, 0.3, 0.7}, distances, "input must not be sorted in place")
	assert.Empty(t, Nearest(nil, 3))
}

func TestNearest_TiesKeepIndexOrder(t *testing.T) {
	assert.Equal(t, []int{1, 3, 0}, Nearest([]float64{0.5, 0.2, 0.9, 0.2}, 3))
}

func TestNearest_DefaultK(t *testing.T) {
	d := make([]float64, 20)
	for i := range d {
		d[i] = float64(20 - i)
	}
	got := Nearest(d, 0)
	require.Len(t, got, models.DefaultNeighborCount)
	assert.Equal(t, 19, got[0])
}

func TestReferences(t *testing.T) {
	refs, err := NewReferences([][]float64{{0, 0}, {3, 4}, {1, 0}})
	require.NoError(t, err)
	assert.Equal(t, 3, refs.Len())
	assert.Equal(t, 2, refs.Dim())

	d, err := refs.Distances([]float64{0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 5, 1}, d, 1e-9)

	_, err = refs.Distances([]float64{1})
	assert.Error(t, err)

	_, err = NewReferences([][]float64{{1, 2}, {1}})
	assert.Error(t, err)
	_, err = NewReferences(nil)
	assert.Error(t, err)
}

func TestLoadReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[[1,0,0],[0,1,0]]`), 0o600))

	refs, err := LoadReferences(path)
	require.NoError(t, err)
	assert.Equal(t, 2, refs.Len())

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = LoadReferences(path)
	assert.Error(t, err)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h, size   int
		wantW, wantH int
	}{
		{"landscape", 600, 300, 100, 100, 50},
		{"portrait", 300, 600, 100, 50, 100},
		{"already small", 40, 20, 100, 40, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Thumbnail(bytes.NewReader(encodePNG(t, tt.w, tt.h)), tt.size)
			require.NoError(t, err)

			img, err := png.Decode(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestThumbnail_NotAnImage(t *testing.T) {
	_, err := Thumbnail(bytes.NewReader([]byte("plain text")), 10)
	assert.Error(t, err)
}

type mapOpener map[string][]byte

func (m mapOpener) Open(_ context.Context, id string) (io.ReadCloser, error) {
	data, ok := m[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestClient_Distances(t *testing.T) {
	var gotID, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Photo-ID")
		gotType = r.Header.Get("Content-Type")
		_, err := png.Decode(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"distances": []float64{0.4, 0.1, 0.3, 0.2}})
	}))
	defer srv.Close()

	c, err := NewClient(mapOpener{"p1": encodePNG(t, 50, 50)}, ClientConfig{URL: srv.URL, K: 3})
	require.NoError(t, err)

	got, err := c.Extract(context.Background(), models.PhotoStub{ID: "p1", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, got)
	assert.Equal(t, "p1", gotID)
	assert.Equal(t, "image/png", gotType)
}

func TestClient_Embedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 0}})
	}))
	defer srv.Close()

	refs, err := NewReferences([][]float64{{0, 1}, {1, 0}, {5, 5}, {1, 0.5}})
	require.NoError(t, err)

	c, err := NewClient(mapOpener{"p1": encodePNG(t, 8, 8)}, ClientConfig{
		URL:        srv.URL,
		Mode:       ModeEmbedding,
		References: refs,
		K:          2,
	})
	require.NoError(t, err)

	got, err := c.Extract(context.Background(), models.PhotoStub{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(mapOpener{"p1": encodePNG(t, 8, 8)}, ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.Extract(context.Background(), models.PhotoStub{ID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")

	_, err = c.Extract(context.Background(), models.PhotoStub{ID: "missing"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(mapOpener{}, ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(mapOpener{}, ClientConfig{URL: "http://localhost", Mode: ModeEmbedding})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDistances, m)

	m, err = ParseMode("embedding")
	require.NoError(t, err)
	assert.Equal(t, ModeEmbedding, m)

	_, err = ParseMode("logits")
	assert.Error(t, err)
}

func TestCached(t *testing.T) {
	calls := 0
	fail := false
	inner := Func(func(_ context.Context, stub models.PhotoStub) ([]int, error) {
		calls++
		if fail {
			return nil, errors.New("model down")
		}
		return []int{len(stub.ID), 1, 2}, nil
	})

	c, err := NewCached(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Extract(ctx, models.PhotoStub{ID: "a"})
	require.NoError(t, err)
	first[0] = 99 // caller mutation must not leak into the cache

	second, err := c.Extract(ctx, models.PhotoStub{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, second)
	assert.Equal(t, 1, calls)

	c.Forget("a")
	_, err = c.Extract(ctx, models.PhotoStub{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	fail = true
	_, err = c.Extract(ctx, models.PhotoStub{ID: "bb"})
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}
