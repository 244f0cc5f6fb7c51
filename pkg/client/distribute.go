package client

import (
	"math"

	"github.com/mixnetlabs/obscuratr/pkg/secrand"
)

// Distribute splits elements across bucketCount buckets with guaranteed
// overlap: every element lands in at least min(minBucketsPerElement,
// bucketCount) buckets, and each bucket independently samples
// ceil(len(elements)*ratio) elements. Bucket sizes come out uneven on
// purpose; uniform bucket sizes would themselves be a fingerprintable
// signal.
func Distribute(elements []string, bucketCount int, ratio float64,
	minBucketsPerElement int) [][]string {

	buckets := make([][]string, bucketCount)
	if bucketCount < 1 || len(elements) == 0 {
		return buckets
	}

	take := int(math.Ceil(float64(len(elements)) * ratio))
	if take > len(elements) {
		take = len(elements)
	}

	// pass 1: each bucket independently samples its share
	assigned := make(map[string]map[int]struct{}, len(elements))
	for _, el := range elements {
		assigned[el] = make(map[int]struct{})
	}
	for b := 0; b < bucketCount; b++ {
		shuffled := append([]string{}, elements...)
		secrand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		for _, el := range shuffled[:take] {
			buckets[b] = append(buckets[b], el)
			assigned[el][b] = struct{}{}
		}
	}

	// pass 2: top up elements that fell short of the overlap minimum
	need := minBucketsPerElement
	if bucketCount < need {
		need = bucketCount
	}
	for _, el := range elements {
		for len(assigned[el]) < need {
			var missing []int
			for b := 0; b < bucketCount; b++ {
				if _, ok := assigned[el][b]; !ok {
					missing = append(missing, b)
				}
			}
			if len(missing) == 0 {
				break
			}
			b := missing[secrand.Intn(len(missing))]
			buckets[b] = append(buckets[b], el)
			assigned[el][b] = struct{}{}
		}
	}

	return buckets
}
