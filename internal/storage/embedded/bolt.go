// Package embedded implements storage.Store on top of an embedded bbolt
// database: incidents are gob-serialized under an "incidents" bucket, with
// a secondary "fingerprints" bucket mapping fingerprint -> incident id
// list. Every write is a synchronous bbolt transaction, flushed to disk
// before the call returns; crash recovery is bbolt's responsibility.
//
// Grounded on cuemby-warren/pkg/storage/boltdb.go's bucket-per-entity,
// db.Update/db.View transaction pattern.
package embedded

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
	cberrors "github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
)

var (
	bucketIncidents   = []byte("incidents")
	bucketFingerprints = []byte("fingerprints")
)

// Store is a bbolt-backed storage.Store implementation.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at path and ensures its buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, cberrors.StorageUnavailable("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIncidents); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketFingerprints); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, cberrors.StorageUnavailable("init buckets", err)
	}
	return &Store{db: db}, nil
}

func encodeIncident(i *domain.Incident) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(i); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIncident(b []byte) (*domain.Incident, error) {
	var i domain.Incident
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&i); err != nil {
		return nil, err
	}
	return &i, nil
}

func encodeIDList(ids []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ids); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIDList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var ids []string
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) Save(ctx context.Context, incident *domain.Incident) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(bucketIncidents)
		if ib.Get([]byte(incident.ID)) != nil {
			return cberrors.New(cberrors.CodeInvalidInput, "incident already exists").WithDetails("id", incident.ID)
		}
		data, err := encodeIncident(incident)
		if err != nil {
			return cberrors.StorageUnavailable("encode incident", err)
		}
		if err := ib.Put([]byte(incident.ID), data); err != nil {
			return cberrors.StorageUnavailable("put incident", err)
		}
		return s.addFingerprintIndex(tx, incident.Fingerprint, incident.ID)
	})
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Incident, error) {
	var out *domain.Incident
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIncidents).Get([]byte(id))
		if data == nil {
			return cberrors.NotFound("incident", id)
		}
		i, err := decodeIncident(data)
		if err != nil {
			return cberrors.StorageInconsistent("decode incident", err)
		}
		out = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, incident *domain.Incident) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(bucketIncidents)
		existingData := ib.Get([]byte(incident.ID))
		if existingData == nil {
			return cberrors.NotFound("incident", incident.ID)
		}
		existing, err := decodeIncident(existingData)
		if err != nil {
			return cberrors.StorageInconsistent("decode existing incident", err)
		}
		if incident.UpdatedAt.Before(existing.UpdatedAt) {
			return nil // last-writer-wins: stale write loses
		}

		data, err := encodeIncident(incident)
		if err != nil {
			return cberrors.StorageUnavailable("encode incident", err)
		}
		if err := ib.Put([]byte(incident.ID), data); err != nil {
			return cberrors.StorageUnavailable("put incident", err)
		}

		if existing.Fingerprint != incident.Fingerprint {
			if err := s.removeFingerprintIndex(tx, existing.Fingerprint, incident.ID); err != nil {
				return err
			}
			if err := s.addFingerprintIndex(tx, incident.Fingerprint, incident.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(bucketIncidents)
		data := ib.Get([]byte(id))
		if data == nil {
			return cberrors.NotFound("incident", id)
		}
		existing, err := decodeIncident(data)
		if err != nil {
			return cberrors.StorageInconsistent("decode existing incident", err)
		}
		if err := ib.Delete([]byte(id)); err != nil {
			return cberrors.StorageUnavailable("delete incident", err)
		}
		return s.removeFingerprintIndex(tx, existing.Fingerprint, id)
	})
}

func (s *Store) List(ctx context.Context, filter storage.IncidentFilter, page, pageSize int) ([]*domain.Incident, error) {
	matched, err := s.scan(filter)
	if err != nil {
		return nil, err
	}
	return paginate(matched, page, pageSize), nil
}

func (s *Store) Count(ctx context.Context, filter storage.IncidentFilter) (int, error) {
	matched, err := s.scan(filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) scan(filter storage.IncidentFilter) ([]*domain.Incident, error) {
	var out []*domain.Incident
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIncidents).ForEach(func(k, v []byte) error {
			i, err := decodeIncident(v)
			if err != nil {
				return cberrors.StorageInconsistent("decode incident during scan", err)
			}
			if filter.Matches(i) {
				out = append(out, i)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]*domain.Incident, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFingerprints).Get([]byte(fingerprint))
		list, err := decodeIDList(data)
		if err != nil {
			return cberrors.StorageInconsistent("decode fingerprint index", err)
		}
		ids = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Incident, 0, len(ids))
	for _, id := range ids {
		i, err := s.Get(ctx, id)
		if err != nil {
			// Self-heal: the index points at a record no longer present.
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) addFingerprintIndex(tx *bolt.Tx, fp, id string) error {
	if fp == "" {
		return nil
	}
	fb := tx.Bucket(bucketFingerprints)
	ids, err := decodeIDList(fb.Get([]byte(fp)))
	if err != nil {
		return cberrors.StorageInconsistent("decode fingerprint index", err)
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	data, err := encodeIDList(ids)
	if err != nil {
		return cberrors.StorageUnavailable("encode fingerprint index", err)
	}
	return fb.Put([]byte(fp), data)
}

func (s *Store) removeFingerprintIndex(tx *bolt.Tx, fp, id string) error {
	if fp == "" {
		return nil
	}
	fb := tx.Bucket(bucketFingerprints)
	ids, err := decodeIDList(fb.Get([]byte(fp)))
	if err != nil {
		return cberrors.StorageInconsistent("decode fingerprint index", err)
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		return fb.Delete([]byte(fp))
	}
	data, err := encodeIDList(kept)
	if err != nil {
		return cberrors.StorageUnavailable("encode fingerprint index", err)
	}
	return fb.Put([]byte(fp), data)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func paginate(items []*domain.Incident, page, pageSize int) []*domain.Incident {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []*domain.Incident{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
