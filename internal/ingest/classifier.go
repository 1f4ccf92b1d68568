package ingest

import "github.com/evidentia-labs/custodian/pkg/record"

// Classifier is the boundary to the external anomaly classifier. It returns
// -1 for anomalous records and 1 for normal ones; the custody core stores
// the flag verbatim on the record before hashing and never interprets it.
type Classifier interface {
	Classify(rec *record.StandardRecord) int
}

// NoopClassifier flags every record as normal. Used when no classifier is
// wired in.
type NoopClassifier struct{}

// Classify implements Classifier.
func (NoopClassifier) Classify(*record.StandardRecord) int {
	return record.AnomalyFlagNormal
}

// SpeedThresholdClassifier is a trivial stand-in for the real statistical
// classifier: anything over the speed limit is anomalous.
type SpeedThresholdClassifier struct {
	LimitMPS float64
}

// Classify implements Classifier.
func (c SpeedThresholdClassifier) Classify(rec *record.StandardRecord) int {
	if rec.Speed() > c.LimitMPS {
		return record.AnomalyFlagAnomalous
	}
	return record.AnomalyFlagNormal
}
