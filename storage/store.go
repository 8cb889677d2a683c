// Package storage persists the latest policy verdicts per resource.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/telemetry"
)

// Bucket names in bbolt
var (
	bucketFindings     = []byte("findings")
	bucketResources    = []byte("resources")
	bucketRemediations = []byte("remediations")
	bucketMeta         = []byte("meta")

	keyRevision = []byte("current_revision")
)

// Finding is the latest verdict of one policy on one resource.
type Finding struct {
	ResourceKey  string         `json:"resource_key"`
	ResourceType string         `json:"resource_type"`
	FullName     string         `json:"full_name"`
	EngineID     string         `json:"engine"`
	PolicyID     string         `json:"policy_id"`
	Compliant    bool           `json:"compliant"`
	Excluded     bool           `json:"excluded"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	// FirstSeenRev is the revision at which the current verdict was first recorded.
	FirstSeenRev int64     `json:"first_seen_rev"`
	LastSeenRev  int64     `json:"last_seen_rev"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key identifies the finding across revisions.
func (f *Finding) Key() string {
	return findingKey(f.ResourceKey, f.EngineID, f.PolicyID)
}

// Open reports a non-compliant, non-excluded verdict.
func (f *Finding) Open() bool {
	return !f.Compliant && !f.Excluded
}

func (f *Finding) sameVerdict(other *Finding) bool {
	return f.Compliant == other.Compliant && f.Excluded == other.Excluded
}

func findingKey(resourceKey, engineID, policyID string) string {
	return resourceKey + "\x00" + engineID + "\x00" + policyID
}

// ResourceRecord tracks the incarnations of a resource.
type ResourceRecord struct {
	Key          string    `json:"key"`
	Type         string    `json:"type"`
	FullName     string    `json:"full_name"`
	Uniquifier   string    `json:"uniquifier,omitempty"`
	Recreations  int       `json:"recreations"`
	FirstSeenRev int64     `json:"first_seen_rev"`
	LastSeenRev  int64     `json:"last_seen_rev"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RemediationRecord is a stored enforcement attempt.
type RemediationRecord struct {
	ResourceKey string                   `json:"resource_key"`
	FullName    string                   `json:"full_name"`
	EngineID    string                   `json:"engine"`
	PolicyID    string                   `json:"policy_id"`
	Status      policy.RemediationStatus `json:"status"`
	Error       string                   `json:"error,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

// FindingStore keeps findings on disk with an in-memory btree index.
type FindingStore struct {
	mu sync.RWMutex

	index *btree.BTreeG[*Finding]
	db    *bbolt.DB

	currentRev int64
	logger     *telemetry.Logger
}

// Open opens or creates the store at path.
func Open(path string) (*FindingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketFindings, bucketResources, bucketRemediations, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	s := &FindingStore{
		index: btree.NewG(32, func(a, b *Finding) bool {
			return a.Key() < b.Key()
		}),
		db:     db,
		logger: telemetry.NewLogger("finding-store"),
	}

	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the store
func (s *FindingStore) Close() error {
	return s.db.Close()
}

// Record stores the evaluations as one revision. A verdict that did not
// change keeps its FirstSeenRev.
func (s *FindingStore) Record(ctx context.Context, evals []policy.Evaluation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	now := time.Now().UTC()

	updated := make([]*Finding, 0, len(evals))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFindings)

		for _, ev := range evals {
			f := newFinding(ev, rev, now)
			if prev, ok := s.index.Get(f); ok && prev.sameVerdict(f) {
				f.FirstSeenRev = prev.FirstSeenRev
			}

			value, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal finding %s: %w", ev.PolicyID, err)
			}
			if err := bucket.Put([]byte(f.Key()), value); err != nil {
				return err
			}
			updated = append(updated, f)
		}

		return tx.Bucket(bucketMeta).Put(keyRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record findings: %w", err)
	}

	s.currentRev = rev
	for _, f := range updated {
		s.index.ReplaceOrInsert(f)
	}

	return rev, nil
}

func newFinding(ev policy.Evaluation, rev int64, now time.Time) *Finding {
	return &Finding{
		ResourceKey:  resource.ResourceKey(ev.Resource),
		ResourceType: string(ev.Resource.Type()),
		FullName:     ev.Resource.FullName(),
		EngineID:     ev.EngineID(),
		PolicyID:     ev.PolicyID,
		Compliant:    ev.Compliant,
		Excluded:     ev.Excluded(),
		Attributes:   ev.EvaluationAttributes,
		FirstSeenRev: rev,
		LastSeenRev:  rev,
		UpdatedAt:    now,
	}
}

// Get returns the latest verdict of a policy on a resource.
func (s *FindingStore) Get(resourceKey, engineID, policyID string) (Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.index.Get(&Finding{ResourceKey: resourceKey, EngineID: engineID, PolicyID: policyID})
	if !ok {
		return Finding{}, false
	}
	return *f, true
}

// Latest returns every stored verdict for a resource, ordered by engine and policy.
func (s *FindingStore) Latest(resourceKey string) []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Finding
	s.ascendResource(resourceKey, func(f *Finding) bool {
		out = append(out, *f)
		return true
	})
	return out
}

// OpenFindings returns every stored verdict that is still a finding.
func (s *FindingStore) OpenFindings() []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Finding
	s.index.Ascend(func(f *Finding) bool {
		if f.Open() {
			out = append(out, *f)
		}
		return true
	})
	return out
}

func (s *FindingStore) ascendResource(resourceKey string, fn func(*Finding) bool) {
	from := &Finding{ResourceKey: resourceKey}
	to := &Finding{ResourceKey: resourceKey + "\x01"}
	s.index.AscendRange(from, to, fn)
}

// ObserveUniquifier compares the live uniquifier of r with the stored one.
// When the resource was recreated, verdicts of the previous incarnation
// are dropped.
func (s *FindingStore) ObserveUniquifier(ctx context.Context, r *resource.Resource) (resource.DiffType, error) {
	current, _ := r.Uniquifier(ctx)
	key := resource.ResourceKey(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	var diff resource.DiffType
	var stale []*Finding

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)

		var rec ResourceRecord
		seen := false
		if raw := bucket.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode resource %s: %w", key, err)
			}
			seen = true
		}

		diff = resource.Change{Previous: rec.Uniquifier, Current: current}.Diff(seen)

		if !seen {
			rec = ResourceRecord{
				Key:          key,
				Type:         string(r.Type()),
				FullName:     r.FullName(),
				FirstSeenRev: s.currentRev,
			}
		}
		if current != "" {
			rec.Uniquifier = current
		}
		if diff == resource.DiffRecreated {
			rec.Recreations++
			findings := tx.Bucket(bucketFindings)
			s.ascendResource(key, func(f *Finding) bool {
				stale = append(stale, f)
				return true
			})
			for _, f := range stale {
				if err := findings.Delete([]byte(f.Key())); err != nil {
					return err
				}
			}
		}
		rec.LastSeenRev = s.currentRev
		rec.UpdatedAt = time.Now().UTC()

		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return resource.DiffUnknown, fmt.Errorf("failed to observe %s: %w", key, err)
	}

	for _, f := range stale {
		s.index.Delete(f)
	}
	if diff == resource.DiffRecreated {
		s.logger.WithContext(ctx).Info().
			Str("resource_type", string(r.Type())).
			Str("resource_name", r.FullName()).
			Str("uniquifier", current).
			Int("dropped_findings", len(stale)).
			Msg("resource recreated")
	}

	return diff, nil
}

// Resource returns the stored incarnation record of a resource.
func (s *FindingStore) Resource(key string) (*ResourceRecord, error) {
	var rec *ResourceRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketResources).Get([]byte(key))
		if raw == nil {
			return nil
		}
		rec = &ResourceRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("resource %s not found", key)
	}
	return rec, nil
}

// CurrentRevision returns the current revision number
func (s *FindingStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Stats returns the number of stored verdicts and the current revision.
func (s *FindingStore) Stats() (findings int, rev int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len(), s.currentRev
}

func (s *FindingStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); data != nil {
			s.currentRev = bytesToInt64(data)
		}

		return tx.Bucket(bucketFindings).ForEach(func(k, v []byte) error {
			f := &Finding{}
			if err := json.Unmarshal(v, f); err != nil {
				return fmt.Errorf("decode finding %q: %w", k, err)
			}
			s.index.ReplaceOrInsert(f)
			return nil
		})
	})
}

func int64ToBytes(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func bytesToInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
