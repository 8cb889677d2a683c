package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

// RecordRemediation stores an enforcement attempt
func (s *FindingStore) RecordRemediation(ctx context.Context, rem policy.Remediation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := RemediationRecord{
		ResourceKey: resource.ResourceKey(rem.Evaluation.Resource),
		FullName:    rem.Evaluation.Resource.FullName(),
		EngineID:    rem.Evaluation.EngineID(),
		PolicyID:    rem.Evaluation.PolicyID,
		Status:      rem.Status,
		Timestamp:   time.Now().UTC(),
	}
	if rem.Err != nil {
		rec.Error = rem.Err.Error()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal remediation: %w", err)
	}

	// Timestamp prefix keeps the bucket in chronological order
	key := append(timeKey(rec.Timestamp), []byte(findingKey(rec.ResourceKey, rec.EngineID, rec.PolicyID))...)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRemediations).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store remediation: %w", err)
	}
	return nil
}

// Remediations returns the enforcement attempts recorded at or after since,
// oldest first.
func (s *FindingStore) Remediations(ctx context.Context, since time.Time) ([]RemediationRecord, error) {
	var records []RemediationRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRemediations).Cursor()
		k, v := c.First()
		if !since.IsZero() {
			k, v = c.Seek(timeKey(since))
		}
		for ; k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec RemediationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode remediation: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query remediations: %w", err)
	}

	return records, nil
}

func timeKey(t time.Time) []byte {
	return int64ToBytes(t.UnixNano())
}
