package types

import "time"

// Config drives the drop-folder loader. Files appearing in SourceDir are
// uploaded to the ingestion API once they stop changing; processed files
// move to ArchiveDir, rejected ones to BadDir.
type Config struct {
	ServerURL      string
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
	Workers        int

	// CropTop and CropBottom, in points, optionally strip running headers
	// and footers from PDFs before upload. Zero disables cropping.
	CropTop    float64
	CropBottom float64
}

func (c *Config) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.SourceDir == "" {
		c.SourceDir = "data/inbox"
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "data/archive"
	}
	if c.BadDir == "" {
		c.BadDir = "data/bad"
	}
	if c.MonitoringTime == 0 {
		c.MonitoringTime = 3 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
}
