package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// rowsBucket holds one nested bucket per project; keys are document ids,
// values are JSON-encoded documents.
var rowsBucket = []byte("vectors")

// Bolt is a file-backed Index on bbolt. Queries are brute-force cosine scans
// within the project bucket, which holds up well into the hundreds of
// thousands of rows this system keeps per project.
type Bolt struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens (or creates) the index file
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rowsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	logger := slog.Default().With("component", "vector")
	logger.Info("vector index opened", "path", path)
	return &Bolt{db: db, logger: logger}, nil
}

// Upsert writes documents into their project buckets in one transaction
func (b *Bolt) Upsert(ctx context.Context, docs []Document) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rowsBucket)
		for _, doc := range docs {
			if doc.ID == "" {
				doc.ID = uuid.New().String()
			}
			if doc.Metadata == nil {
				doc.Metadata = map[string]string{}
			}
			project := doc.Metadata["project_id"]
			if project == "" {
				return fmt.Errorf("document %s: %w", doc.ID, ErrProjectRequired)
			}
			bucket, err := root.CreateBucketIfNotExists([]byte(project))
			if err != nil {
				return fmt.Errorf("failed to create project bucket %s: %w", project, err)
			}
			encoded, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
			}
			if err := bucket.Put([]byte(doc.ID), encoded); err != nil {
				return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
}

// Query scans the project bucket and returns the topK cosine matches
func (b *Bolt) Query(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]Match, error) {
	project := filter["project_id"]
	if project == "" {
		return nil, ErrProjectRequired
	}

	var matches []Match
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rowsBucket).Bucket([]byte(project))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				b.logger.Warn("skipping corrupt vector row", "id", string(k), "error", err)
				return nil
			}
			if !matchesFilter(doc.Metadata, filter) {
				return nil
			}
			matches = append(matches, Match{
				ID:       doc.ID,
				Score:    Cosine(vec, doc.Vector),
				Metadata: doc.Metadata,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	return rank(matches, topK), nil
}

// Delete removes ids from every project bucket they appear in
func (b *Bolt) Delete(ctx context.Context, ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rowsBucket)
		return root.ForEachBucket(func(name []byte) error {
			bucket := root.Bucket(name)
			for id := range want {
				if err := bucket.Delete([]byte(id)); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// DeleteProject drops the whole project bucket
func (b *Bolt) DeleteProject(ctx context.Context, projectID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rowsBucket)
		if root.Bucket([]byte(projectID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(projectID))
	})
}

// Close closes the underlying file
func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close vector index: %w", err)
	}
	return nil
}
