package store

import (
	"context"
	"strconv"
	"time"

	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// runsBucket holds one sub-bucket per "<schema>.<table>", each holding
	// one sub-bucket per automation_id.
	runsBucket = "runs"
	// runIndexBucket maps run_id to the table bucket that holds it.
	runIndexBucket = "run_index"
)

// BoltStore keeps run records in a local BoltDB file. Within an automation
// bucket records are keyed by run time then run_id, so cursor order is
// chronological.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a BoltDB file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open boltdb at %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return errors.Wrap(err, "create runs bucket")
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(runIndexBucket)); err != nil {
			return errors.Wrap(err, "create run_index bucket")
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// boltKey orders records chronologically within an automation bucket.
func boltKey(rec *record.RunRecord) []byte {
	return []byte(rec.RunTime.UTC().Format("20060102T150405.000000000Z") + "_" + rec.RunID)
}

func tableBucketName(rec *record.RunRecord) []byte {
	return []byte(rec.SchemaName + "." + rec.TableName)
}

// Insert implements Store. A run_id can only be written once.
func (s *BoltStore) Insert(_ context.Context, rec *record.RunRecord) error {
	if err := validateRecord(rec, true); err != nil {
		return err
	}

	data, err := document(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		index := tx.Bucket([]byte(runIndexBucket))

		if index.Get([]byte(rec.RunID)) != nil {
			return errors.Newf("run %s already recorded", rec.RunID)
		}

		table, err := runs.CreateBucketIfNotExists(tableBucketName(rec))
		if err != nil {
			return errors.Wrapf(err, "create table bucket %s", tableBucketName(rec))
		}
		automation, err := table.CreateBucketIfNotExists([]byte(strconv.FormatInt(rec.AutomationID, 10)))
		if err != nil {
			return errors.Wrapf(err, "create automation bucket %d", rec.AutomationID)
		}

		if err := automation.Put(boltKey(rec), data); err != nil {
			return errors.Wrap(err, "put run")
		}
		if err := index.Put([]byte(rec.RunID), tableBucketName(rec)); err != nil {
			return errors.Wrap(err, "put run index")
		}
		return nil
	})
}

// Close releases resources held by the store.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
