package siseon

import (
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DBSCAN is classic density clustering. A zero Eps is estimated from the
// k-distance curve of the input.
type DBSCAN struct {
	MinPts int
	Eps    float64
}

func (d DBSCAN) FitPredict(x *mat.Dense) ([]int, error) {
	if x == nil {
		return nil, fmt.Errorf("dbscan: nil input")
	}
	points := rowsOf(x)
	n := len(points)
	if d.MinPts < 1 {
		return nil, fmt.Errorf("dbscan: minPts must be positive, got %d", d.MinPts)
	}

	clusterID := make([]int, n)
	for i := range clusterID {
		clusterID[i] = Noise
	}
	if n <= d.MinPts {
		return clusterID, nil
	}

	eps := d.Eps
	if eps <= 0 {
		eps = calculateOptimalEps(points, d.MinPts)
	}

	visited := make([]bool, n)
	currentCluster := 0
	for i := range n {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := findNeighbors(points, i, eps)
		if len(neighbors) < d.MinPts {
			continue
		}
		expandCluster(points, i, neighbors, currentCluster, eps, d.MinPts, visited, clusterID)
		currentCluster++
	}
	return clusterID, nil
}

// calculateOptimalEps picks eps from the sorted k-distance curve. Smaller
// datasets use a higher percentile to avoid over-fragmentation; the result is
// clamped to [mean-2σ, mean+σ] of the curve.
func calculateOptimalEps(points [][]float64, k int) float64 {
	n := len(points)
	kDistances := make([]float64, n)

	for i := range n {
		distances := make([]float64, 0, n-1)
		for j := range n {
			if i != j {
				distances = append(distances, floats.Distance(points[i], points[j], 2))
			}
		}
		sort.Float64s(distances)
		if k-1 < len(distances) {
			kDistances[i] = distances[k-1]
		} else if len(distances) > 0 {
			kDistances[i] = distances[len(distances)-1]
		}
	}
	sort.Float64s(kDistances)

	var percentile float64
	switch {
	case n < 20:
		percentile = 0.3
	case n < 50:
		percentile = 0.25
	default:
		percentile = 0.15
	}
	elbowIdx := int(float64(n) * percentile)
	elbowIdx = max(1, min(elbowIdx, n-1))
	eps := kDistances[elbowIdx]

	mean, stdDev := stat.PopMeanStdDev(kDistances, nil)
	minEps := math.Max(0, mean-2*stdDev)
	maxEps := mean + stdDev
	eps = math.Max(minEps, math.Min(eps, maxEps))

	log.Debugf("🎯 Calculated eps=%.4f (%.0fth percentile, mean=%.4f, std=%.4f, bounds=[%.4f, %.4f])",
		eps, percentile*100, mean, stdDev, minEps, maxEps)
	return eps
}

// findNeighbors returns every other point within eps of pointIdx.
func findNeighbors(points [][]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	for i, other := range points {
		if i != pointIdx && floats.Distance(points[pointIdx], other, 2) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

// expandCluster grows clusterID from a core point through density-reachable neighbours.
func expandCluster(points [][]float64, pointIdx int, neighbors []int, clusterID int, eps float64, minPts int, visited []bool, pointClusterID []int) {
	pointClusterID[pointIdx] = clusterID

	queued := make(map[int]bool, len(neighbors))
	for _, nIdx := range neighbors {
		queued[nIdx] = true
	}
	for i := 0; i < len(neighbors); i++ {
		nIdx := neighbors[i]

		if !visited[nIdx] {
			visited[nIdx] = true
			newNeighbors := findNeighbors(points, nIdx, eps)
			if len(newNeighbors) >= minPts {
				for _, newN := range newNeighbors {
					if !queued[newN] {
						queued[newN] = true
						neighbors = append(neighbors, newN)
					}
				}
			}
		}

		if pointClusterID[nIdx] == Noise {
			pointClusterID[nIdx] = clusterID
		}
	}
}
