// Package tiger imports Census TIGER/Line boundary shapefiles as regions.
package tiger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
)

// ImportOptions configures one boundary import.
type ImportOptions struct {
	Source string         // .shp path, .zip path or URL
	Type   geo.RegionType // region type every record is stored as
	// Replace deletes existing regions of Type (within StateFIPS when set)
	// before loading. Otherwise records are upserted by geoid.
	Replace   bool
	StateFIPS string
	DryRun    bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Path     string         `json:"path"`
	Type     geo.RegionType `json:"region_type"`
	Read     int            `json:"read"`
	Written  int64          `json:"written"`
	Duration time.Duration  `json:"duration"`
}

// Importer loads boundary files into a region store.
type Importer struct {
	fetcher *Fetcher
	store   geospatial.RegionStore
}

// NewImporter creates an Importer.
func NewImporter(fetcher *Fetcher, store geospatial.RegionStore) *Importer {
	return &Importer{fetcher: fetcher, store: store}
}

// Import fetches, parses and stores one boundary file.
func (im *Importer) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	if _, err := geo.ParseRegionType(string(opts.Type)); err != nil {
		return nil, err
	}
	start := time.Now()
	log := zap.L().With(
		zap.String("component", "tiger.import"),
		zap.String("source", opts.Source),
		zap.String("region_type", string(opts.Type)),
	)

	shpPath, err := im.fetcher.Fetch(ctx, opts.Source)
	if err != nil {
		return nil, err
	}
	regions, err := ReadRegions(shpPath, opts.Type)
	if err != nil {
		return nil, err
	}
	if opts.StateFIPS != "" {
		regions = filterState(regions, opts.StateFIPS)
	}

	res := &ImportResult{Path: shpPath, Type: opts.Type, Read: len(regions)}
	if opts.DryRun {
		res.Duration = time.Since(start)
		log.Info("dry run: regions parsed", zap.Int("regions", res.Read))
		return res, nil
	}
	if len(regions) == 0 && opts.Replace {
		return nil, eris.Errorf("tiger: %s produced no %s regions; refusing to replace", opts.Source, opts.Type)
	}

	if opts.Replace {
		res.Written, err = im.store.Replace(ctx, opts.Type, opts.StateFIPS, regions)
	} else {
		res.Written, err = im.store.Upsert(ctx, regions)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: store %s regions", opts.Type)
	}

	res.Duration = time.Since(start)
	log.Info("regions imported",
		zap.Int("read", res.Read),
		zap.Int64("written", res.Written),
		zap.Duration("elapsed", res.Duration),
	)
	return res, nil
}

func filterState(regions []geospatial.Region, fips string) []geospatial.Region {
	out := regions[:0]
	for _, r := range regions {
		if r.StateFIPS == fips {
			out = append(out, r)
		}
	}
	return out
}
