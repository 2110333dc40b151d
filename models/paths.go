// ABOUTME: Data models for fabric paths, predictions, and the weight document
// ABOUTME: Mirrors the on-disk path-selection JSON consumed by the SDN side

package models

// Route is a directed leaf pair.
type Route struct {
	Src string
	Dst string
}

func (r Route) Key() string { return r.Src + "->" + r.Dst }

// Canonical returns the route with the lexically smaller leaf first, so
// that both directions of a leaf pair share history and models.
func (r Route) Canonical() Route {
	if r.Src <= r.Dst {
		return r
	}
	return Route{Src: r.Dst, Dst: r.Src}
}

// PathName is the canonical "leafA-spineN-leafB" identifier of a path.
func PathName(r Route, spine string) string {
	c := r.Canonical()
	return c.Src + "-" + spine + "-" + c.Dst
}

// PathSample is the bytes observed on one directed path over a one-minute
// collection window.
type PathSample struct {
	Route Route
	Spine string
	Bytes int64
}

// PathPrediction is the predicted next-window bytes for a path. Predicted
// values are clamped to be non-negative.
type PathPrediction struct {
	Route Route
	Spine string
	Bytes float64
}

// RouteWeights is the normalised selection ratio pair for a route, indexed
// by path (0 = spine1, 1 = spine2). R0 + R1 = 1 within tolerance.
type RouteWeights struct {
	R0 float64
	R1 float64
}

// BandwidthCost describes the cost behind a selection ratio.
type BandwidthCost struct {
	Bytes       float64 `json:"bytes"`
	Megabytes   float64 `json:"megabytes"`
	Source      string  `json:"source"`
	Description string  `json:"description,omitempty"`
}

// PathDetail is one path's entry in the weight document.
type PathDetail struct {
	ViaSpine       string        `json:"via_spine"`
	SelectionRatio float64       `json:"selection_ratio"`
	BandwidthCost  BandwidthCost `json:"bandwidth_cost"`
}

// RouteDetail groups the two paths of a route in the weight document.
type RouteDetail struct {
	Description string                `json:"description"`
	DataSource  string                `json:"data_source"`
	Note        string                `json:"note,omitempty"`
	PathDetails map[string]PathDetail `json:"path_details"`
}

// WeightMetadata is the metadata block of the path-selection document.
type WeightMetadata struct {
	TimestampUnix        float64 `json:"timestamp_unix"`
	TimestampUTC8        string  `json:"timestamp_utc8"`
	DataPeriodStart      string  `json:"data_period_start"`
	DataPeriodEnd        string  `json:"data_period_end"`
	Iteration            int     `json:"iteration"`
	CollectionIntervalS  int     `json:"collection_interval_seconds"`
	TotalNetworkTrafficM float64 `json:"total_network_traffic_mb"`
	RouteGroupsComputed  int     `json:"route_groups_computed"`
	LoadBalancingMode    string  `json:"load_balancing_mode"`
	UsingPredictions     bool    `json:"using_predictions"`
	Description          string  `json:"description"`
}

// PathSelectionDocument is the full document published to the SDN side.
type PathSelectionDocument struct {
	Metadata             WeightMetadata         `json:"metadata"`
	PathSelectionWeights map[string]RouteDetail `json:"path_selection_weights"`
}

// Ratios extracts the (path_0, path_1) selection ratios for a route key,
// defaulting to an even split when the document lacks the route.
func (d *PathSelectionDocument) Ratios(routeKey string) RouteWeights {
	w := RouteWeights{R0: 0.5, R1: 0.5}
	if d == nil {
		return w
	}
	detail, ok := d.PathSelectionWeights[routeKey]
	if !ok {
		return w
	}
	if p, ok := detail.PathDetails["path_0"]; ok {
		w.R0 = p.SelectionRatio
	}
	if p, ok := detail.PathDetails["path_1"]; ok {
		w.R1 = p.SelectionRatio
	}
	return w
}
