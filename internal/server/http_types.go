package server

// Point is a floorplan pixel position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RouteRequest asks for a path inside a venue. The start is either a node id
// or a floorplan point; the destination is either a node id or a POI id.
type RouteRequest struct {
	From      string `json:"from,omitempty" validate:"required_without=FromPoint,excluded_with=FromPoint"`
	FromPoint *Point `json:"fromPoint,omitempty"`
	To        string `json:"to,omitempty" validate:"required_without=POIID,excluded_with=POIID"`
	POIID     string `json:"poiId,omitempty"`
}

// RouteStep is one node of a returned path.
type RouteStep struct {
	NodeID string   `json:"nodeId"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	// Bearing and Heading describe the leg to the next step; absent on the
	// last one.
	Bearing *float64 `json:"bearing,omitempty"`
	Heading string   `json:"heading,omitempty"`
}

// RouteResponse is the answer to a RouteRequest. Found is false when the
// destination is unreachable; that is not an error.
type RouteResponse struct {
	ManifestID string      `json:"manifestId"`
	Found      bool        `json:"found"`
	NodeIDs    []string    `json:"nodeIds"`
	Weight     float64     `json:"weight"`
	Meters     float64     `json:"meters"`
	Steps      []RouteStep `json:"steps"`
}

// AnchorResponse is where a scanned QR anchor places the device.
type AnchorResponse struct {
	ManifestID string   `json:"manifestId"`
	QRAnchorID string   `json:"qrAnchorId"`
	NodeID     string   `json:"nodeId"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// VenuesResponse lists venues with a published manifest.
type VenuesResponse struct {
	Venues []string `json:"venues"`
}
