package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/brensch/arxivrefs/internal/config"
	"github.com/brensch/arxivrefs/internal/manifest"
	"github.com/brensch/arxivrefs/internal/store"
)

// openStore returns the HTTP mirror when one is configured, else S3.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.ObjectStore, error) {
	if cfg.MirrorURL != "" {
		st, err := store.NewHTTP(cfg.MirrorURL, nil, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using HTTP mirror", "store", st.String())
		return st, nil
	}
	st, err := store.NewS3(ctx, cfg.Bucket, cfg.Region, cfg.RequesterPays)
	if err != nil {
		return nil, err
	}
	logger.Info("Using S3 bucket", "store", st.String(), "requester_pays", cfg.RequesterPays)
	return st, nil
}

// loadManifest reads the manifest through the local cache at path. Mirrors
// that do not publish a manifest fall back to a directory listing.
func loadManifest(ctx context.Context, st store.ObjectStore, cfg config.Config, cachePath string, refresh bool, logger *slog.Logger) ([]manifest.Entry, error) {
	entries, err := manifest.NewProvider(st, cfg.ManifestKey, logger).Get(ctx, cachePath, refresh)
	if err == nil {
		return entries, nil
	}
	lister, ok := st.(store.Lister)
	if !ok || !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	prefix := path.Dir(cfg.ManifestKey) + "/"
	logger.Warn("Manifest not published by mirror, discovering archives from listing", "prefix", prefix, "error", err)
	entries, discoverErr := manifest.Discover(ctx, lister, prefix, logger)
	if discoverErr != nil {
		return nil, errors.Join(err, discoverErr)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no archives listed under %s", manifest.ErrManifestUnavailable, prefix)
	}
	return entries, nil
}
