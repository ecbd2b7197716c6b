package boltstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	bbolt "go.etcd.io/bbolt"
)

// DefaultReportKeep is how many dbck reports the store retains.
const DefaultReportKeep = 50

// batchSize bounds the objects written per transaction on a full save.
const batchSize = 1000

// Store persists the object table and the dbck report history in bbolt.
type Store struct {
	bolt *bbolt.DB

	// ReportKeep caps the report history; older reports are dropped.
	ReportKeep int
}

// Open opens or creates a bbolt file and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{bolt: db, ReportKeep: DefaultReportKeep}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the bbolt file.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// HasData reports whether any objects have been saved.
func (s *Store) HasData() bool {
	has := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bucketObjects).Stats().KeyN > 0
		return nil
	})
	return has
}

// Save writes the whole table. Slots at or past db_top, left over from a
// larger table, are deleted.
func (s *Store) Save(db *gamedb.Database) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		m := tx.Bucket(bucketMeta)
		for _, kv := range []struct {
			k []byte
			v int
		}{
			{keyVersion, db.Version},
			{keyFormat, db.Format},
			{keyFlags, db.Flags},
			{keyTop, db.Top()},
			{keyGod, int(db.God)},
			{keyNextAttr, db.NextAttr},
			{keyRecordPlayers, db.RecordPlayers},
			{keyBuildingLimit, db.BuildingLimit},
		} {
			if err := m.Put(kv.k, intToKey(kv.v)); err != nil {
				return err
			}
		}

		a := tx.Bucket(bucketAttrDefs)
		for num, def := range db.AttrDefs {
			data, err := encodeGob(def)
			if err != nil {
				return fmt.Errorf("encode attr def %d: %w", num, err)
			}
			if err := a.Put(intToKey(num), data); err != nil {
				return err
			}
		}

		b := tx.Bucket(bucketObjects)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(refToKey(gamedb.DBRef(db.Top()))); k != nil; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		return deleteKeys(b, stale)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save meta: %w", err)
	}

	for start := 0; start < db.Top(); start += batchSize {
		end := min(start+batchSize, db.Top())
		if err := s.PutObjects(db.Objects[start:end]...); err != nil {
			return err
		}
	}
	log.Printf("boltstore: saved %d objects", db.Top())
	return nil
}

// PutObjects writes objs in a single transaction.
func (s *Store) PutObjects(objs ...*gamedb.Object) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for _, obj := range objs {
			if obj == nil {
				continue
			}
			data, err := encodeGob(obj)
			if err != nil {
				return fmt.Errorf("boltstore: encode object #%d: %w", int(obj.DBRef), err)
			}
			if err := b.Put(refToKey(obj.DBRef), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the whole table back. Missing slots below the saved db_top
// come back as clean garbage. The freelist is not stored: a dbck pass
// rebuilds it.
func (s *Store) Load() (*gamedb.Database, error) {
	db := gamedb.NewDatabase()
	top := 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		m := tx.Bucket(bucketMeta)
		for _, kv := range []struct {
			k   []byte
			dst *int
		}{
			{keyVersion, &db.Version},
			{keyFormat, &db.Format},
			{keyFlags, &db.Flags},
			{keyTop, &top},
			{keyNextAttr, &db.NextAttr},
			{keyRecordPlayers, &db.RecordPlayers},
			{keyBuildingLimit, &db.BuildingLimit},
		} {
			if v := m.Get(kv.k); v != nil {
				*kv.dst = keyToInt(v)
			}
		}
		if v := m.Get(keyGod); v != nil {
			db.God = keyToRef(v)
		}

		err := tx.Bucket(bucketAttrDefs).ForEach(func(k, v []byte) error {
			def, err := decodeAttrDef(v)
			if err != nil {
				return fmt.Errorf("decode attr def %d: %w", keyToInt(k), err)
			}
			nextAttr := db.NextAttr
			db.AddAttrDef(keyToInt(k), def.Name, def.Flags)
			db.NextAttr = nextAttr
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			obj, err := decodeObject(v)
			if err != nil {
				return fmt.Errorf("decode object #%d: %w", int(keyToRef(k)), err)
			}
			db.Put(obj)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load: %w", err)
	}
	if top > db.Top() {
		db.Grow(top)
	}
	log.Printf("boltstore: loaded %d objects", db.Top())
	return db, nil
}

// PutReport appends a dbck report to the history and drops the oldest
// beyond ReportKeep.
func (s *Store) PutReport(r *dbck.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("boltstore: encode report: %w", err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReports)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(intToKey(int(seq)), data); err != nil {
			return err
		}
		keep := s.ReportKeep
		if keep <= 0 {
			keep = DefaultReportKeep
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		if len(keys) <= keep {
			return nil
		}
		return deleteKeys(b, keys[:len(keys)-keep])
	})
}

// deleteKeys removes keys collected by an earlier cursor walk.
func deleteKeys(b *bbolt.Bucket, keys [][]byte) error {
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Reports returns up to limit stored reports, newest first. A limit of
// zero or less returns them all.
func (s *Store) Reports(limit int) ([]*dbck.Report, error) {
	var out []*dbck.Report
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketReports).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			r := new(dbck.Report)
			if err := json.Unmarshal(v, r); err != nil {
				return fmt.Errorf("decode report %d: %w", keyToInt(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: reports: %w", err)
	}
	return out, nil
}

// Backup writes a hot snapshot of the bbolt file to path.
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}
