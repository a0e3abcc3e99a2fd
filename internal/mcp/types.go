package mcp

// --- Tool Arguments ---

type FindRouteArgs struct {
	VenueID string   `json:"venue_id" jsonschema:"The venue to route in"`
	From    string   `json:"from,omitempty" jsonschema:"Start node id. Leave empty when from_x and from_y are given"`
	FromX   *float64 `json:"from_x,omitempty" jsonschema:"Start position on the floorplan in pixels, snapped to the nearest node"`
	FromY   *float64 `json:"from_y,omitempty"`
	To      string   `json:"to,omitempty" jsonschema:"Destination node id. Leave empty when poi_id is given"`
	POIID   string   `json:"poi_id,omitempty" jsonschema:"Destination point of interest"`
}

type FindRouteResult struct {
	ManifestID string   `json:"manifest_id"`
	Found      bool     `json:"found"`
	NodeIDs    []string `json:"node_ids"`
	Meters     float64  `json:"meters"`
	// Directions is a human readable walk, e.g. "entrance -> east -> j1".
	Directions string `json:"directions"`
}

type NearestNodeArgs struct {
	VenueID string  `json:"venue_id"`
	X       float64 `json:"x" jsonschema:"Floorplan x in pixels"`
	Y       float64 `json:"y" jsonschema:"Floorplan y in pixels"`
}

type NodeResult struct {
	NodeID string   `json:"node_id"`
	Kind   string   `json:"kind,omitempty"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
}

type ResolveAnchorArgs struct {
	VenueID    string `json:"venue_id"`
	QRAnchorID string `json:"qr_anchor_id" jsonschema:"The id printed in the scanned QR code"`
}

type ListPOIsArgs struct {
	VenueID string `json:"venue_id"`
}

type POIResult struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type ListPOIsResult struct {
	POIs []POIResult `json:"pois"`
}
