package model

import "time"

// MetricSample is one reading of a named metric for a source
type MetricSample struct {
	SourceID  string    `json:"source_id"`
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
