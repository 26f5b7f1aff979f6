package siseon

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DimensionalityReducer projects an N×D matrix to N×d with d much smaller than D.
type DimensionalityReducer interface {
	FitTransform(x *mat.Dense) (*mat.Dense, error)
}

// PCAReducer keeps the leading principal components.
type PCAReducer struct {
	Dimensions int
}

// FitTransform centers x and projects it on its first Dimensions principal
// directions, capped at min(N-1, D).
func (p PCAReducer) FitTransform(x *mat.Dense) (*mat.Dense, error) {
	n, d := x.Dims()
	k := min(p.Dimensions, n-1, d)
	if k < 1 {
		return nil, fmt.Errorf("cannot reduce %d×%d matrix to %d dimensions", n, d, p.Dimensions)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("principal component analysis failed for %d×%d matrix", n, d)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	centered := centerColumns(x)
	var out mat.Dense
	out.Mul(centered, vecs.Slice(0, d, 0, k))
	return &out, nil
}

// RandomProjectionReducer multiplies by a seeded Gaussian matrix. Pairwise
// distances are approximately preserved for wide inputs.
type RandomProjectionReducer struct {
	Dimensions int
	Seed       int64
}

func (r RandomProjectionReducer) FitTransform(x *mat.Dense) (*mat.Dense, error) {
	n, d := x.Dims()
	k := r.Dimensions
	if k < 1 || n == 0 {
		return nil, fmt.Errorf("cannot project %d×%d matrix to %d dimensions", n, d, k)
	}
	if k >= d {
		return mat.DenseCopyOf(x), nil
	}

	rng := rand.New(rand.NewSource(r.Seed))
	scale := 1 / math.Sqrt(float64(k))
	proj := mat.NewDense(d, k, nil)
	for i := range d {
		for j := range k {
			proj.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	var out mat.Dense
	out.Mul(x, proj)
	return &out, nil
}

// NewReducer returns the configured reducer.
func NewReducer(cfg ClusteringConfig) DimensionalityReducer {
	if cfg.Reducer == "random" {
		return RandomProjectionReducer{Dimensions: cfg.ReducedDimensions, Seed: cfg.RandomSeed}
	}
	return PCAReducer{Dimensions: cfg.ReducedDimensions}
}

func centerColumns(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	out := mat.DenseCopyOf(x)
	for j := range d {
		mean := stat.Mean(mat.Col(nil, j, x), nil)
		for i := range n {
			out.Set(i, j, out.At(i, j)-mean)
		}
	}
	return out
}

// normalizeVectors applies L2 normalization so euclidean distance tracks cosine distance.
func normalizeVectors(vectors [][]float64) [][]float64 {
	normalized := make([][]float64, len(vectors))
	for i, vec := range vectors {
		norm := 0.0
		for _, val := range vec {
			norm += val * val
		}
		norm = math.Sqrt(norm)

		out := make([]float64, len(vec))
		if norm > 0 {
			for j, val := range vec {
				out[j] = val / norm
			}
		} else {
			copy(out, vec)
		}
		normalized[i] = out
	}
	return normalized
}

// toDense stacks equal-length rows into a matrix.
func toDense(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	d := len(rows[0])
	flat := make([]float64, 0, len(rows)*d)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return mat.NewDense(len(rows), d, flat)
}

// rowsOf returns the rows of m as slices.
func rowsOf(m mat.Matrix) [][]float64 {
	n, _ := m.Dims()
	rows := make([][]float64, n)
	for i := range n {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}
