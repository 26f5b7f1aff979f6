package siseon

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ClusterQuality describes one cluster before filtering.
type ClusterQuality struct {
	Label       int     `json:"label"`
	Size        int     `json:"size"`
	Coherence   float64 `json:"coherence"`
	AvgDistance float64 `json:"avg_distance"`
	MaxDistance float64 `json:"max_distance"`
	Kept        bool    `json:"kept"`
}

// QualityFilter demotes small or loose clusters to noise.
type QualityFilter struct {
	MinClusterSize      int
	MaxCentroidDistance float64
}

// Apply returns a copy of labels in which every cluster that is smaller than
// MinClusterSize, or whose farthest member lies beyond MaxCentroidDistance of
// the centroid, is relabeled Noise. The input labels are not modified.
func (f QualityFilter) Apply(points [][]float64, labels []int) ([]int, []ClusterQuality) {
	members := clusterMembers(labels)
	out := make([]int, len(labels))
	copy(out, labels)

	qualities := make([]ClusterQuality, 0, len(members))
	for _, label := range sortedLabels(members) {
		idx := members[label]
		centroid := centroidOf(points, idx)

		total, farthest := 0.0, 0.0
		for _, i := range idx {
			d := floats.Distance(points[i], centroid, 2)
			total += d
			farthest = math.Max(farthest, d)
		}
		avg := total / float64(len(idx))

		q := ClusterQuality{
			Label:       label,
			Size:        len(idx),
			Coherence:   math.Max(0, 1-avg),
			AvgDistance: avg,
			MaxDistance: farthest,
			Kept:        len(idx) >= f.MinClusterSize && farthest <= f.MaxCentroidDistance,
		}
		if !q.Kept {
			for _, i := range idx {
				out[i] = Noise
			}
		}
		qualities = append(qualities, q)
	}
	return out, qualities
}

// Silhouette returns the mean silhouette coefficient over clustered points.
// Noise is ignored; fewer than two clusters score 0.
func Silhouette(points [][]float64, labels []int) float64 {
	members := clusterMembers(labels)
	if len(members) <= 1 {
		return 0.0
	}
	order := sortedLabels(members)

	total, count := 0.0, 0
	for i, label := range labels {
		if label == Noise {
			continue
		}

		// Average distance to points in same cluster (a)
		a := 0.0
		same := 0
		for _, j := range members[label] {
			if j != i {
				a += floats.Distance(points[i], points[j], 2)
				same++
			}
		}
		if same > 0 {
			a /= float64(same)
		}

		// Minimum average distance to points in other clusters (b)
		b := math.Inf(1)
		for _, other := range order {
			if other == label {
				continue
			}
			avg := 0.0
			for _, j := range members[other] {
				avg += floats.Distance(points[i], points[j], 2)
			}
			avg /= float64(len(members[other]))
			b = math.Min(b, avg)
		}

		s := 0.0
		if math.Max(a, b) > 0 {
			s = (b - a) / math.Max(a, b)
		}
		total += s
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// AssessQuality summarizes a clustering run in words for the report.
func AssessQuality(silhouette float64, numClusters, numPoints, noise int) string {
	var assessment []string

	switch {
	case silhouette > 0.7:
		assessment = append(assessment, "Excellent cluster separation")
	case silhouette > 0.5:
		assessment = append(assessment, "Good cluster separation")
	case silhouette > 0.25:
		assessment = append(assessment, "Moderate cluster separation")
	case silhouette > 0:
		assessment = append(assessment, "Weak cluster separation")
	default:
		assessment = append(assessment, "Poor cluster separation - clusters may overlap")
	}

	if numPoints > 0 {
		switch ratio := float64(noise) / float64(numPoints); {
		case ratio > 0.6:
			assessment = append(assessment, "most articles left as noise")
		case ratio > 0.3:
			assessment = append(assessment, "a sizeable noise share")
		default:
			assessment = append(assessment, "good coverage")
		}
	}

	if numClusters > 0 {
		avgClusterSize := float64(numPoints-noise) / float64(numClusters)
		switch {
		case avgClusterSize < 5:
			assessment = append(assessment, "too many micro-clusters")
		case avgClusterSize > 50:
			assessment = append(assessment, "broad issue themes")
		default:
			assessment = append(assessment, "balanced issue grouping")
		}
	}

	if len(assessment) == 1 {
		return assessment[0]
	}
	return strings.Join(assessment[:len(assessment)-1], ", ") + " with " + assessment[len(assessment)-1]
}

// clusterMembers groups point indices by label, skipping noise.
func clusterMembers(labels []int) map[int][]int {
	members := make(map[int][]int)
	for i, l := range labels {
		if l != Noise {
			members[l] = append(members[l], i)
		}
	}
	return members
}

func sortedLabels(members map[int][]int) []int {
	labels := make([]int, 0, len(members))
	for l := range members {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

func centroidOf(points [][]float64, idx []int) []float64 {
	centroid := make([]float64, len(points[idx[0]]))
	for _, i := range idx {
		floats.Add(centroid, points[i])
	}
	floats.Scale(1/float64(len(idx)), centroid)
	return centroid
}
