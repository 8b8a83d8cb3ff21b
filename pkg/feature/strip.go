package feature

import "math"

// StripClusterK bounds how many similarity clusters a strip pass groups
// candidates into, grounded on otama_bovw_fixed_driver.hpp's CLUSTER_K.
const StripClusterK = 16

// stripOverfitThreshold flags a leading run of near-identical top scores
// as likely near-duplicate spam rather than a genuine cluster boundary,
// grounded on the original's OVERFIT_TH().
const stripOverfitThreshold = 0.99

// Strip re-groups an already similarity-sorted (descending) candidate
// slice into StripClusterK clusters by 1-D k-means over Similarity, then
// keeps only the leading cluster — and, if that cluster's scores all
// clear stripOverfitThreshold, the cluster after it too — capped at n.
// This is the driver.strip control-channel flag's effect (spec §6):
// guarding against a long run of near-duplicate top hits crowding out
// everything else, grounded on otama_bovw_fixed_driver.hpp's m_strip
// path.
func Strip(sorted []Candidate, n int) []Candidate {
	if n > len(sorted) {
		n = len(sorted)
	}
	if len(sorted) <= StripClusterK {
		return sorted[:n]
	}

	labels := kmeans1D(sorted, StripClusterK)

	end := 0
	for end < len(sorted) && end < n && labels[end] == labels[0] {
		end++
	}

	if end < n && end < len(sorted) {
		overfit := true
		for i := 0; i < end; i++ {
			if sorted[i].Similarity < stripOverfitThreshold {
				overfit = false
				break
			}
		}
		if overfit {
			nextLabel := labels[end]
			for end < len(sorted) && end < n && labels[end] == nextLabel {
				end++
			}
		}
	}

	return sorted[:end]
}

// kmeans1D clusters sorted[i].Similarity into k groups by repeated
// nearest-centroid assignment, seeding centroids evenly across the
// (already sorted) value range the way the original seeds from
// similarity[i*step].
func kmeans1D(sorted []Candidate, k int) []int {
	n := len(sorted)
	step := n / k
	centroid := make([]float32, k)
	for i := 0; i < k; i++ {
		centroid[i] = sorted[i*step].Similarity
	}

	labels := make([]int, n)
	for iter := 0; iter < 50; iter++ {
		changed := false
		for i, c := range sorted {
			best, bestDist := 0, float32(math.MaxFloat32)
			for j, cj := range centroid {
				d := c.Similarity - cj
				if d < 0 {
					d = -d
				}
				if d < bestDist {
					best, bestDist = j, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		sum := make([]float32, k)
		count := make([]int, k)
		for i, c := range sorted {
			sum[labels[i]] += c.Similarity
			count[labels[i]]++
		}
		for j := range centroid {
			if count[j] > 0 {
				centroid[j] = sum[j] / float32(count[j])
			}
		}
	}
	return labels
}
