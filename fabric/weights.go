// ABOUTME: Inverse-occupancy weight derivation and document assembly
// ABOUTME: Lower predicted bandwidth earns a path the larger share of new flows

package fabric

import (
	"math"
	"time"

	"github.com/HuaZheng03/dslb/models"
)

// epsilon keeps the inverse weighting finite on idle paths. An all-zero
// pair still normalises to an even split.
const epsilon = 1.0

// RatiosFromCosts converts per-path costs to selection ratios using inverse
// weighting, normalised so the pair sums to 1.
func RatiosFromCosts(costs map[int]float64) map[int]float64 {
	if len(costs) == 0 {
		return map[int]float64{}
	}

	allZero := true
	for _, c := range costs {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		even := 1.0 / float64(len(costs))
		out := make(map[int]float64, len(costs))
		for k := range costs {
			out[k] = even
		}
		return out
	}

	weights := make(map[int]float64, len(costs))
	var total float64
	for k, c := range costs {
		w := 1.0 / (math.Max(0, c) + epsilon)
		weights[k] = w
		total += w
	}

	out := make(map[int]float64, len(costs))
	for k, w := range weights {
		out[k] = w / total
	}
	return out
}

// routeResult carries one route's computed weights into the document.
type routeResult struct {
	route  models.Route
	costs  map[int]float64
	ratios map[int]float64
	source string // realtime, prediction, hybrid
	spines []string
}

// buildDocument renders the path-selection document in the on-disk format
// the SDN-side selector consumes.
func buildDocument(results []routeResult, iteration int, mode string, usingPredictions bool,
	periodStart, periodEnd time.Time, collectionSeconds int, totalMB float64) models.PathSelectionDocument {

	const layout = "2006-01-02 15:04:05"

	desc := "Path selection weights based on real-time cumulative bandwidth usage"
	if usingPredictions {
		desc = "Path selection weights based on predicted bandwidth usage"
	}

	doc := models.PathSelectionDocument{
		Metadata: models.WeightMetadata{
			TimestampUnix:        float64(periodEnd.Unix()),
			TimestampUTC8:        periodEnd.Format(layout),
			DataPeriodStart:      periodStart.Format(layout),
			DataPeriodEnd:        periodEnd.Format(layout),
			Iteration:            iteration,
			CollectionIntervalS:  collectionSeconds,
			TotalNetworkTrafficM: round2(totalMB),
			RouteGroupsComputed:  len(results),
			LoadBalancingMode:    mode,
			UsingPredictions:     usingPredictions,
			Description:          desc,
		},
		PathSelectionWeights: map[string]models.RouteDetail{},
	}

	for _, r := range results {
		detail := models.RouteDetail{
			Description: "Traffic distribution ratios for " + r.route.Key(),
			DataSource:  sourceDescription(r.source),
			Note:        "Lower bandwidth usage = higher ratio (path receives more new flows)",
			PathDetails: map[string]models.PathDetail{},
		}
		for idx, ratio := range r.ratios {
			cost := r.costs[idx]
			spine := ""
			if idx < len(r.spines) {
				spine = r.spines[idx]
			}
			detail.PathDetails[pathKey(idx)] = models.PathDetail{
				ViaSpine:       spine,
				SelectionRatio: round4(ratio),
				BandwidthCost: models.BandwidthCost{
					Bytes:     cost,
					Megabytes: round2(cost / (1024 * 1024)),
					Source:    r.source,
				},
			}
		}
		doc.PathSelectionWeights[r.route.Key()] = detail
	}
	return doc
}

func sourceDescription(source string) string {
	switch source {
	case "prediction":
		return "time-series model prediction"
	case "hybrid":
		return "blended prediction and real-time measurement"
	}
	return "real-time measurement"
}

func pathKey(idx int) string {
	if idx == 0 {
		return "path_0"
	}
	return "path_1"
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
