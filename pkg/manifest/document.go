// Package manifest encodes a venue's graph, POIs and calibration data into a
// single self-contained JSON document that client devices use offline, and
// decodes it back with full consistency checks.
//
// Neighbor weights are computed at publish time and stored in the document;
// clients never recompute them. Decoding is the last validation gate before
// a device relies on a manifest, so every reference is checked.
package manifest

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaVersion is the document format produced by Encode.
const SchemaVersion = 1

// ErrFormat is returned when a document is malformed, incomplete or
// internally inconsistent.
var ErrFormat = errors.New("invalid manifest")

// Document is the wire form of a manifest.
type Document struct {
	SchemaVersion       int           `json:"schemaVersion" validate:"required,gte=1"`
	ManifestID          string        `json:"manifestId,omitempty"`
	VenueID             string        `json:"venueId" validate:"required"`
	EventID             string        `json:"eventId,omitempty"`
	GeneratedAt         time.Time     `json:"generatedAt" validate:"required"`
	Floorplan           *FloorplanDoc `json:"floorplan" validate:"required"`
	Nodes               []NodeDoc     `json:"nodes" validate:"required,min=1,dive"`
	POIs                []POIDoc      `json:"pois" validate:"dive"`
	Anchors             []AnchorDoc   `json:"anchors" validate:"dive"`
	FallbackInstruction string        `json:"fallbackInstruction"`
}

// FloorplanDoc describes the floorplan image and its real-world transform.
type FloorplanDoc struct {
	ID             string   `json:"id,omitempty"`
	ImageRef       string   `json:"imageRef" validate:"required"`
	PixelsPerMeter float64  `json:"pixelsPerMeter" validate:"gt=0"`
	OriginLat      *float64 `json:"originLat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	OriginLng      *float64 `json:"originLng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	RotationDeg    *float64 `json:"rotationDeg,omitempty"`
}

// NodeDoc is a node with its precomputed neighbor list.
type NodeDoc struct {
	ID         string        `json:"id" validate:"required"`
	X          *float64      `json:"x" validate:"required"`
	Y          *float64      `json:"y" validate:"required"`
	Kind       string        `json:"kind,omitempty"`
	QRAnchorID string        `json:"qrAnchorId,omitempty"`
	Neighbors  []NeighborDoc `json:"neighbors" validate:"required,dive"`
}

// NeighborDoc is one adjacency entry.
type NeighborDoc struct {
	ID     string   `json:"id" validate:"required"`
	Weight *float64 `json:"weight" validate:"required"`
}

// POIDoc is an exported point of interest.
type POIDoc struct {
	ID   string   `json:"id" validate:"required"`
	Name string   `json:"name" validate:"required"`
	X    *float64 `json:"x" validate:"required"`
	Y    *float64 `json:"y" validate:"required"`
	Type string   `json:"type,omitempty"`
}

// AnchorDoc binds a QR anchor to a node.
type AnchorDoc struct {
	QRAnchorID   string   `json:"qrAnchorId" validate:"required"`
	NodeID       string   `json:"nodeId" validate:"required"`
	RealWorldLat *float64 `json:"realWorldLat,omitempty"`
	RealWorldLng *float64 `json:"realWorldLng,omitempty"`
}

var docValidate = validator.New()

// Schema returns the JSON schema of Document, for client-side tooling.
func Schema() (*jsonschema.Schema, error) {
	return jsonschema.For[Document](nil)
}

func f64(v float64) *float64 { return &v }
