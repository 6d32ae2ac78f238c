package config

import "github.com/canvasledger/cl/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Canvas page size: Canvas silently caps per_page at 100, reject values
	// that would surprise the caller
	if c.Canvas.PageSize < 1 || c.Canvas.PageSize > MaxPageSize {
		return errors.Newf("canvas.page_size must be between 1 and %d, got %d", MaxPageSize, c.Canvas.PageSize)
	}

	if c.Canvas.TimeoutSeconds <= 0 {
		return errors.Newf("canvas.timeout_seconds must be > 0, got %d", c.Canvas.TimeoutSeconds)
	}

	// Rate limit: 0 = unlimited (valid), negative = invalid
	if c.Canvas.RequestsPerSecond < 0 {
		return errors.Newf("canvas.requests_per_second must be >= 0, got %f", c.Canvas.RequestsPerSecond)
	}
	if c.Canvas.RequestsPerSecond > 0 && c.Canvas.Burst < 1 {
		return errors.Newf("canvas.burst must be >= 1 when rate limiting is enabled, got %d", c.Canvas.Burst)
	}

	// Stale lock grace: 0 = steal cross-host locks immediately, negative = invalid
	if c.Ingest.StaleLockGraceSeconds < 0 {
		return errors.Newf("ingest.stale_lock_grace_seconds must be >= 0, got %d", c.Ingest.StaleLockGraceSeconds)
	}

	// Display format must be one of the supported renderers
	switch c.Display.Format {
	case "", "table", "json", "csv", "yaml":
	default:
		return errors.Newf("display.format must be one of table, json, csv, yaml; got %q", c.Display.Format)
	}

	return nil
}
