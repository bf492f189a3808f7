package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/brensch/arxivrefs/internal/store"
	"github.com/brensch/arxivrefs/internal/util"
)

var archiveName = regexp.MustCompile(`^arXiv_pdf_(\d{4})_(\d+)\.tar$`)

// Discover builds entries from a mirror's directory listing under prefix,
// for mirrors that do not carry the manifest. Synthesised entries have the
// first of their month as timestamp and no checksum.
func Discover(ctx context.Context, l store.Lister, prefix string, logger *slog.Logger) ([]Entry, error) {
	keys, err := l.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrManifestUnavailable, prefix, err)
	}

	var entries []Entry
	for _, key := range keys {
		m := archiveName.FindStringSubmatch(path.Base(key))
		if m == nil {
			continue
		}
		ym, err := util.ParseYYMM(m[1])
		if err != nil {
			logger.Warn("Skipping archive with unparseable month", "key", key, "error", err)
			continue
		}
		seq, _ := strconv.Atoi(m[2])
		entries = append(entries, Entry{
			Filename:  key,
			Timestamp: ym.String() + "-01 00:00:00",
			YYMM:      m[1],
			SeqNum:    seq,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].SeqNum < entries[j].SeqNum
	})
	logger.Info("Discovered archives from listing", "prefix", prefix, "links", len(keys), "archives", len(entries))
	return entries, nil
}
