// Package model holds the value types that cross worker boundaries through
// bounded queues. None of them carry behavior; they are the wire format
// between producers and consumers.
package model

// Sample is one reading produced by a B-route or generic-serial worker and
// consumed by the recorder.
type Sample struct {
	UnitID   string
	SensorID string
	Value    float64
	DataID   string
}

// UploadBatch is a 10-minute aggregate file body handed from the recorder to
// the uploader.
type UploadBatch struct {
	Filename string
	Body     string
}

// DisplaySample is an optional side-channel snapshot for a configured
// (unit, sensor) display slot.
type DisplaySample struct {
	Slot     string
	UnitID   string
	SensorID string
	Value    float64
}
