package store

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/metacubex/bbolt"

	"github.com/John-Robertt/subgen-go/internal/log"
)

var bucketConfigs = []byte("configs")

// Bolt is a single-file store. Expired records are removed on read and by Sweep.
type Bolt struct {
	db  *bbolt.DB
	now func() time.Time
}

func OpenBolt(path string) (*Bolt, error) {
	options := bbolt.Options{Timeout: time.Second}
	db, err := bbolt.Open(path, 0o600, &options)
	switch {
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrVersionMismatch):
		if err = os.Remove(path); err != nil {
			return nil, err
		}
		log.Warnln("[Store] removed invalid store file %s", path)
		db, err = bbolt.Open(path, 0o600, &options)
	}
	if err != nil {
		return nil, err
	}
	err = db.Update(func(t *bbolt.Tx) error {
		_, err := t.CreateBucketIfNotExists(bucketConfigs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, now: time.Now}, nil
}

func (s *Bolt) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.View(func(t *bbolt.Tx) error {
		if v := t.Bucket(bucketConfigs).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	r, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		if _, err := s.Delete(ctx, id); err != nil {
			log.Warnln("[Store] delete expired %s failed: %v", id, err)
		}
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Bolt) Set(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return s.db.Batch(func(t *bbolt.Tx) error {
		return t.Bucket(bucketConfigs).Put([]byte(r.ID), data)
	})
}

func (s *Bolt) Delete(_ context.Context, id string) (bool, error) {
	found := false
	err := s.db.Update(func(t *bbolt.Tx) error {
		b := t.Bucket(bucketConfigs)
		if b.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(id))
	})
	return found, err
}

func (s *Bolt) List(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(t *bbolt.Tx) error {
		c := t.Bucket(bucketConfigs).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

func (s *Bolt) Stats(_ context.Context) (Stats, error) {
	st := Stats{Driver: "bolt"}
	err := s.db.View(func(t *bbolt.Tx) error {
		st.Count = t.Bucket(bucketConfigs).Stats().KeyN
		return nil
	})
	return st, err
}

// Sweep deletes every expired record and reports how many were removed.
// Undecodable values are removed too.
func (s *Bolt) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	n := 0
	err := s.db.Update(func(t *bbolt.Tx) error {
		b := t.Bucket(bucketConfigs)
		var dead [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := decodeRecord(v)
			if err != nil || r.Expired(now) {
				dead = append(dead, append([]byte(nil), k...))
			}
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(dead)
		return nil
	})
	return n, err
}

func (s *Bolt) Close() error { return s.db.Close() }
