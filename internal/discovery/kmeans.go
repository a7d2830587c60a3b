package discovery

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// partition is one fitted k-means partition of the standardized sample.
type partition struct {
	centers [][]float64
	labels  []int
	inertia float64
}

// fitKMeans runs Lloyd's algorithm with k-means++ seeding. Deterministic
// for a fixed rng state.
func fitKMeans(data [][]float64, k, maxIter int, rng *rand.Rand) partition {
	centers := seedPlusPlus(data, k, rng)
	labels := make([]int, len(data))
	dims := len(data[0])

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range data {
			best, bestDist := 0, math.Inf(1)
			for c := range centers {
				if d := floats.Distance(p, centers[c], 2); d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		// Recompute centers; an emptied cluster keeps its old center.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range data {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), sums[c])
				centers[c] = sums[c]
			}
		}

		if !changed {
			break
		}
	}

	inertia := 0.0
	for i, p := range data {
		d := floats.Distance(p, centers[labels[i]], 2)
		inertia += d * d
	}
	return partition{centers: centers, labels: labels, inertia: inertia}
}

// seedPlusPlus picks initial centers with probability proportional to
// squared distance from the nearest existing center.
func seedPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	first := data[rng.Intn(len(data))]
	centers = append(centers, append([]float64(nil), first...))

	dists := make([]float64, len(data))
	for len(centers) < k {
		total := 0.0
		for i, p := range data {
			nearest := math.Inf(1)
			for _, c := range centers {
				if d := floats.Distance(p, c, 2); d < nearest {
					nearest = d
				}
			}
			dists[i] = nearest * nearest
			total += dists[i]
		}
		if total == 0 {
			// All points coincide with a center; duplicate one.
			centers = append(centers, append([]float64(nil), data[rng.Intn(len(data))]...))
			continue
		}
		target := rng.Float64() * total
		cum := 0.0
		pick := len(data) - 1
		for i, d := range dists {
			cum += d
			if cum >= target {
				pick = i
				break
			}
		}
		centers = append(centers, append([]float64(nil), data[pick]...))
	}
	return centers
}

// silhouette computes the mean silhouette coefficient of a partition:
// for each point, (b-a)/max(a,b) where a is the mean distance to its
// own cluster and b the smallest mean distance to another cluster.
// Range -1..1, higher is better separated.
func silhouette(data [][]float64, labels []int, k int) float64 {
	n := len(data)
	if n == 0 || k < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	total := 0.0
	scored := 0
	sums := make([]float64, k)
	for i := range data {
		for c := range sums {
			sums[c] = 0
		}
		for j := range data {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(data[i], data[j], 2)
		}

		own := labels[i]
		if counts[own] < 2 {
			continue // singleton clusters contribute 0 by convention
		}
		a := sums[own] / float64(counts[own]-1)
		b := math.Inf(1)
		for c := range sums {
			if c == own || counts[c] == 0 {
				continue
			}
			if mean := sums[c] / float64(counts[c]); mean < b {
				b = mean
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
		scored++
	}

	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}
