// Package remote implements storage.Store on top of Redis: incidents are
// JSON-serialized at a namespaced key, with secondary index sets for
// severity, state, source, and fingerprint. Multi-filter queries compute
// set intersections (AND across categories) and unions (OR within a
// multi-valued category) before fetching values in a single batch.
//
// A failure between the primary write and its index updates can leave
// dangling index entries; List/Count self-heal by silently dropping ids
// that no longer resolve to a value.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
	cberrors "github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
)

// Store is a Redis-backed storage.Store implementation.
type Store struct {
	client *redis.Client
	prefix string
}

// Open creates a Store connected to url (a redis:// connection string)
// with the given key-namespace prefix.
func Open(url, prefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, cberrors.StorageUnavailable("parse redis url", err)
	}
	client := redis.NewClient(opt)
	if prefix == "" {
		prefix = "ns"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, cberrors.StorageUnavailable("ping redis", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) incidentKey(id string) string     { return fmt.Sprintf("%s:incident:%s", s.prefix, id) }
func (s *Store) allKey() string                    { return fmt.Sprintf("%s:incidents", s.prefix) }
func (s *Store) severityKey(sev domain.Severity) string { return fmt.Sprintf("%s:severity:%s", s.prefix, sev) }
func (s *Store) stateKey(st domain.State) string   { return fmt.Sprintf("%s:state:%s", s.prefix, st) }
func (s *Store) sourceKey(src string) string       { return fmt.Sprintf("%s:source:%s", s.prefix, src) }
func (s *Store) fingerprintKey(fp string) string   { return fmt.Sprintf("%s:fingerprint:%s", s.prefix, fp) }

func (s *Store) indexKeysFor(i *domain.Incident) []string {
	return []string{
		s.allKey(),
		s.severityKey(i.Severity),
		s.stateKey(i.State),
		s.sourceKey(i.Source),
		s.fingerprintKey(i.Fingerprint),
	}
}

func (s *Store) Save(ctx context.Context, incident *domain.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return cberrors.StorageUnavailable("encode incident", err)
	}

	exists, err := s.client.Exists(ctx, s.incidentKey(incident.ID)).Result()
	if err != nil {
		return cberrors.StorageUnavailable("exists check", err)
	}
	if exists > 0 {
		return cberrors.New(cberrors.CodeInvalidInput, "incident already exists").WithDetails("id", incident.ID)
	}

	if err := s.client.Set(ctx, s.incidentKey(incident.ID), data, 0).Err(); err != nil {
		return cberrors.StorageUnavailable("set incident", err)
	}
	for _, key := range s.indexKeysFor(incident) {
		if err := s.client.SAdd(ctx, key, incident.ID).Err(); err != nil {
			return cberrors.StorageInconsistent("index incident", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Incident, error) {
	data, err := s.client.Get(ctx, s.incidentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, cberrors.NotFound("incident", id)
	}
	if err != nil {
		return nil, cberrors.StorageUnavailable("get incident", err)
	}
	var i domain.Incident
	if err := json.Unmarshal(data, &i); err != nil {
		return nil, cberrors.StorageInconsistent("decode incident", err)
	}
	return &i, nil
}

func (s *Store) Update(ctx context.Context, incident *domain.Incident) error {
	existing, err := s.Get(ctx, incident.ID)
	if err != nil {
		return err
	}
	if incident.UpdatedAt.Before(existing.UpdatedAt) {
		return nil // last-writer-wins: stale write loses
	}

	data, err := json.Marshal(incident)
	if err != nil {
		return cberrors.StorageUnavailable("encode incident", err)
	}
	if err := s.client.Set(ctx, s.incidentKey(incident.ID), data, 0).Err(); err != nil {
		return cberrors.StorageUnavailable("set incident", err)
	}

	for _, key := range s.indexKeysFor(existing) {
		if key == s.allKey() {
			continue
		}
		if err := s.client.SRem(ctx, key, incident.ID).Err(); err != nil {
			return cberrors.StorageInconsistent("deindex incident", err)
		}
	}
	for _, key := range s.indexKeysFor(incident) {
		if err := s.client.SAdd(ctx, key, incident.ID).Err(); err != nil {
			return cberrors.StorageInconsistent("index incident", err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.incidentKey(id)).Err(); err != nil {
		return cberrors.StorageUnavailable("delete incident", err)
	}
	for _, key := range s.indexKeysFor(existing) {
		if err := s.client.SRem(ctx, key, id).Err(); err != nil {
			return cberrors.StorageInconsistent("deindex incident", err)
		}
	}
	return nil
}

// candidateIDs computes the filtered id set: categories with values
// present are unioned within the category (SUNIONSTORE into a scratch
// key), then intersected across categories (SINTERSTORE), starting from
// the full incident set when no category filter applies.
func (s *Store) candidateIDs(ctx context.Context, filter storage.IncidentFilter) ([]string, error) {
	scratchKeys := []string{}
	defer func() {
		if len(scratchKeys) > 0 {
			s.client.Del(context.Background(), scratchKeys...)
		}
	}()

	interKeys := []string{}

	unionFor := func(prefix string, values []string) (string, error) {
		if len(values) == 1 {
			return values[0], nil
		}
		scratch := fmt.Sprintf("%s:scratch:%s:%d", s.prefix, prefix, time.Now().UnixNano())
		if err := s.client.SUnionStore(ctx, scratch, values...).Err(); err != nil {
			return "", err
		}
		scratchKeys = append(scratchKeys, scratch)
		return scratch, nil
	}

	if len(filter.Severities) > 0 {
		keys := make([]string, 0, len(filter.Severities))
		for sev := range filter.Severities {
			keys = append(keys, s.severityKey(sev))
		}
		k, err := unionFor("sev", keys)
		if err != nil {
			return nil, cberrors.StorageUnavailable("union severity sets", err)
		}
		interKeys = append(interKeys, k)
	}
	if len(filter.States) > 0 {
		keys := make([]string, 0, len(filter.States))
		for st := range filter.States {
			keys = append(keys, s.stateKey(st))
		}
		k, err := unionFor("state", keys)
		if err != nil {
			return nil, cberrors.StorageUnavailable("union state sets", err)
		}
		interKeys = append(interKeys, k)
	}
	if len(filter.Sources) > 0 {
		keys := make([]string, 0, len(filter.Sources))
		for src := range filter.Sources {
			keys = append(keys, s.sourceKey(src))
		}
		k, err := unionFor("source", keys)
		if err != nil {
			return nil, cberrors.StorageUnavailable("union source sets", err)
		}
		interKeys = append(interKeys, k)
	}

	if len(interKeys) == 0 {
		return s.client.SMembers(ctx, s.allKey()).Result()
	}
	if len(interKeys) == 1 {
		return s.client.SMembers(ctx, interKeys[0]).Result()
	}

	resultKey := fmt.Sprintf("%s:scratch:result:%d", s.prefix, time.Now().UnixNano())
	if err := s.client.SInterStore(ctx, resultKey, interKeys...).Err(); err != nil {
		return nil, cberrors.StorageUnavailable("intersect filter sets", err)
	}
	scratchKeys = append(scratchKeys, resultKey)
	return s.client.SMembers(ctx, resultKey).Result()
}

func (s *Store) fetchAndFilter(ctx context.Context, filter storage.IncidentFilter) ([]*domain.Incident, error) {
	ids, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.incidentKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, cberrors.StorageUnavailable("batch get incidents", err)
	}

	out := make([]*domain.Incident, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue // self-heal: dangling index entry, value already gone
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var inc domain.Incident
		if err := json.Unmarshal([]byte(str), &inc); err != nil {
			continue
		}
		if filter.Matches(&inc) {
			out = append(out, &inc)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) List(ctx context.Context, filter storage.IncidentFilter, page, pageSize int) ([]*domain.Incident, error) {
	matched, err := s.fetchAndFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	return paginate(matched, page, pageSize), nil
}

func (s *Store) Count(ctx context.Context, filter storage.IncidentFilter) (int, error) {
	matched, err := s.fetchAndFilter(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]*domain.Incident, error) {
	ids, err := s.client.SMembers(ctx, s.fingerprintKey(fingerprint)).Result()
	if err != nil {
		return nil, cberrors.StorageUnavailable("fingerprint members", err)
	}
	out := make([]*domain.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.Get(ctx, id)
		if err != nil {
			continue // self-heal: dangling index entry
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
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
