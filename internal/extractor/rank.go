package extractor

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/floats"

	"github.com/thebtf/photodedup/pkg/models"
)

// Nearest returns the indices of the k smallest distances in ascending order of
// distance. Equal distances keep index order. The input is not modified.
func Nearest(distances []float64, k int) []int {
	if k <= 0 {
		k = models.DefaultNeighborCount
	}
	if len(distances) == 0 {
		return []int{}
	}

	sorted := make([]float64, len(distances))
	copy(sorted, distances)
	inds := make([]int, len(distances))
	floats.ArgsortStable(sorted, inds)

	return inds[:min(k, len(inds))]
}

// References is the matrix of reference image embeddings, one row per image.
type References struct {
	rows [][]float64
	dim  int
}

// NewReferences validates that every row has the same non-zero dimension.
func NewReferences(rows [][]float64) (*References, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("reference set is empty")
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("reference embeddings have zero dimension")
	}
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("reference %d has dimension %d, want %d", i, len(r), dim)
		}
	}
	return &References{rows: rows, dim: dim}, nil
}

// LoadReferences reads a JSON array of embeddings from path.
func LoadReferences(path string) (*References, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse references %s: %w", path, err)
	}
	return NewReferences(rows)
}

// Len returns the number of reference images.
func (r *References) Len() int { return len(r.rows) }

// Dim returns the embedding dimension.
func (r *References) Dim() int { return r.dim }

// Distances returns the Euclidean distance from v to every reference.
func (r *References) Distances(v []float64) ([]float64, error) {
	if len(v) != r.dim {
		return nil, fmt.Errorf("embedding has dimension %d, want %d", len(v), r.dim)
	}
	out := make([]float64, len(r.rows))
	for i, row := range r.rows {
		out[i] = floats.Distance(v, row, 2)
	}
	return out, nil
}
