package store

import (
	"context"
	"strings"

	"github.com/caevv/runlog/internal/config"
	"github.com/cockroachdb/errors"
)

// New creates the Store selected by the sink section of runlog.yaml.
// Supported drivers:
//   - "postgres": one row per run in the automation's schema and table
//   - "bbolt": BoltDB file, useful on hosts without a warehouse
//   - "jsonl": append-only JSON lines file
//   - "minio": one JSON object per run in an S3-compatible bucket
//   - "multi": every driver listed in sink.drivers
//
// The sink section is validated first, so a misconfigured sink fails here.
func New(ctx context.Context, cfg config.Sink) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sink configuration")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != "multi" {
		return open(ctx, driver, cfg)
	}

	stores := make([]Store, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		d = strings.ToLower(strings.TrimSpace(d))
		s, err := open(ctx, d, cfg)
		if err != nil {
			closeAll(stores)
			return nil, errors.Wrapf(err, "open %s sink", d)
		}
		stores = append(stores, s)
	}
	return NewMultiStore(stores...), nil
}

func open(ctx context.Context, driver string, cfg config.Sink) (Store, error) {
	switch driver {
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bbolt":
		s, err := NewBoltStore(cfg.Bolt.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "jsonl":
		s, err := NewJSONLStore(cfg.JSONL.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		s, err := NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("unsupported sink driver: %s (supported: %v)", driver, config.SupportedDrivers)
	}
}

func closeAll(stores []Store) {
	for _, s := range stores {
		_ = s.Close()
	}
}
