package siseon

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs returns perBlob points around each of two orthogonal unit vectors,
// L2-normalized like article embeddings.
func twoBlobs(seed int64, perBlob, dim int, sigma float64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	var points [][]float64
	for blob := 0; blob < 2; blob++ {
		for i := 0; i < perBlob; i++ {
			p := make([]float64, dim)
			p[blob] = 1
			for j := range p {
				p[j] += rng.NormFloat64() * sigma
			}
			points = append(points, p)
		}
	}
	return normalizeVectors(points)
}

func labelSizes(labels []int) (map[int]int, int) {
	sizes := make(map[int]int)
	noise := 0
	for _, l := range labels {
		if l == Noise {
			noise++
			continue
		}
		sizes[l]++
	}
	return sizes, noise
}

func TestHDBSCAN_TwoBlobs(t *testing.T) {
	points := twoBlobs(1, 20, 32, 0.02)

	labels, err := HDBSCAN{MinClusterSize: 5, MinSamples: 3}.FitPredict(toDense(points))
	require.NoError(t, err)
	require.Len(t, labels, 40)

	sizes, _ := labelSizes(labels)
	require.Len(t, sizes, 2)
	for _, size := range sizes {
		assert.InDelta(t, 20, size, 3)
	}
	// Points of one blob never share a label with the other blob.
	for i := 0; i < 20; i++ {
		for j := 20; j < 40; j++ {
			if labels[i] != Noise && labels[j] != Noise {
				assert.NotEqual(t, labels[i], labels[j])
			}
		}
	}
}

func TestHDBSCAN_ReducedBlobsWithQualityFilter(t *testing.T) {
	points := twoBlobs(2, 20, 64, 0.02)
	cfg := DefaultSettings().Clustering

	reduced, err := NewReducer(cfg).FitTransform(toDense(points))
	require.NoError(t, err)

	labels, err := NewClusterer(cfg).FitPredict(reduced)
	require.NoError(t, err)

	filtered, qualities := QualityFilter{
		MinClusterSize:      cfg.QualityMinSize,
		MaxCentroidDistance: cfg.MaxCentroidDistance,
	}.Apply(points, labels)

	sizes, _ := labelSizes(filtered)
	require.Len(t, sizes, 2)
	for _, size := range sizes {
		assert.InDelta(t, 20, size, 3)
	}
	for _, q := range qualities {
		assert.True(t, q.Kept)
		assert.Greater(t, q.Coherence, 0.5)
	}
}

func TestHDBSCAN_Deterministic(t *testing.T) {
	points := twoBlobs(3, 15, 16, 0.05)
	h := HDBSCAN{MinClusterSize: 5, MinSamples: 3}

	first, err := h.FitPredict(toDense(points))
	require.NoError(t, err)
	second, err := h.FitPredict(toDense(points))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHDBSCAN_TooFewPointsIsNoise(t *testing.T) {
	points := twoBlobs(4, 2, 8, 0.01)

	labels, err := HDBSCAN{MinClusterSize: 5, MinSamples: 3}.FitPredict(toDense(points))
	require.NoError(t, err)
	assert.Equal(t, []int{Noise, Noise, Noise, Noise}, labels)
}

func TestHDBSCAN_InvalidParameters(t *testing.T) {
	points := twoBlobs(5, 5, 4, 0.01)

	_, err := HDBSCAN{MinClusterSize: 1, MinSamples: 3}.FitPredict(toDense(points))
	assert.Error(t, err)
	_, err = HDBSCAN{MinClusterSize: 5, MinSamples: 0}.FitPredict(toDense(points))
	assert.Error(t, err)
}

func TestCoreDistances(t *testing.T) {
	points := [][]float64{{0}, {1}, {3}, {6}}

	assert.Equal(t, []float64{0, 0, 0, 0}, coreDistances(points, 1))
	assert.Equal(t, []float64{1, 1, 2, 3}, coreDistances(points, 2))
}

func TestDBSCAN_TwoBlobs(t *testing.T) {
	points := twoBlobs(6, 20, 32, 0.02)

	labels, err := DBSCAN{MinPts: 3, Eps: 0.5}.FitPredict(toDense(points))
	require.NoError(t, err)

	sizes, noise := labelSizes(labels)
	assert.Equal(t, map[int]int{0: 20, 1: 20}, sizes)
	assert.Zero(t, noise)
}

func TestDBSCAN_EstimatesEps(t *testing.T) {
	points := twoBlobs(7, 20, 32, 0.02)

	eps := calculateOptimalEps(points, 3)
	assert.Greater(t, eps, 0.0)
	assert.Less(t, eps, 1.0)

	labels, err := DBSCAN{MinPts: 3}.FitPredict(toDense(points))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		for j := 20; j < 40; j++ {
			if labels[i] != Noise && labels[j] != Noise {
				assert.NotEqual(t, labels[i], labels[j])
			}
		}
	}
}
