package main

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/config"
	"github.com/ehr/warehouse/internal/domain/i2b2"
	"github.com/ehr/warehouse/internal/domain/transmart"
	"github.com/ehr/warehouse/pkg/resource"
)

// buildAdapter returns the plain i2b2 adapter, or the tranSMART decorator
// around it when TRANSMART_URL is set.
func buildAdapter(cfg *config.Config, logger zerolog.Logger) (resource.Adapter, error) {
	hc := &http.Client{Timeout: cfg.HTTPTimeout}

	base, err := i2b2.NewAdapter(i2b2.Settings{
		ResourceName: cfg.ResourceName,
		ResourceURL:  cfg.ResourceURL,
		Domain:       cfg.Domain,
		ProxyURL:     cfg.ProxyURL,
		Username:     cfg.Username,
		Password:     cfg.Password,
		HTTPTimeout:  cfg.HTTPTimeout,
		Poll:         i2b2.PollPolicy{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout},
	}, i2b2.WithHTTPClient(hc), i2b2.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if !cfg.UseTransmart() {
		return base, nil
	}

	tm, err := transmart.NewAdapter(base, transmart.Settings{
		TransmartURL: cfg.TransmartURL,
		BatchSize:    cfg.ExtractionBatchSize,
		HTTPTimeout:  cfg.HTTPTimeout,
	}, transmart.WithHTTPClient(hc), transmart.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return tm, nil
}
