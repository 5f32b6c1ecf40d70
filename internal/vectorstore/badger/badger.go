// Package badger implements the persisted vector index on BadgerDB through
// badgerhold.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// writeChunk bounds the records written per badger transaction. One chunk of
// 3072-dimensional vectors stays well under badger's batch size limit.
const writeChunk = 128

// vectorRecord is the persisted form of domain.Record. Seq orders records by
// insertion so ties in similarity resolve the same way across restarts.
// SourcePath is not a badgerhold index: its index entry would be rewritten
// on every insert of the same source.
type vectorRecord struct {
	ID         string
	Seq        uint64
	BatchID    string
	SourcePath string
	Text       string
	Vector     []float32
}

// batchCommit marks a batch whose records were all written.
type batchCommit struct {
	ID      string
	Records int
}

// Storage is a vector index kept in a Badger directory.
type Storage struct {
	store  *badgerhold.Store
	logger zerolog.Logger

	mu        sync.RWMutex
	nextSeq   uint64
	dimension int
}

// Open opens the index at dir, creating an empty one when dir does not exist.
// Records of a batch that never committed are removed.
func Open(dir string, logger zerolog.Logger) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger index %s: %w", dir, err)
	}

	s := &Storage{store: store, logger: logger}
	if err := s.load(dir); err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) load(dir string) error {
	var commits []batchCommit
	if err := s.store.Find(&commits, nil); err != nil {
		return fmt.Errorf("scan badger batches %s: %w", dir, err)
	}
	committed := make(map[string]struct{}, len(commits))
	for _, c := range commits {
		committed[c.ID] = struct{}{}
	}

	var existing []vectorRecord
	if err := s.store.Find(&existing, nil); err != nil {
		return fmt.Errorf("scan badger index %s: %w", dir, err)
	}
	var orphans []string
	kept := 0
	for _, r := range existing {
		if _, ok := committed[r.BatchID]; !ok {
			orphans = append(orphans, r.ID)
			continue
		}
		kept++
		if r.Seq >= s.nextSeq {
			s.nextSeq = r.Seq + 1
		}
		if s.dimension == 0 {
			s.dimension = len(r.Vector)
		}
	}
	if len(orphans) > 0 {
		s.logger.Warn().Int("records", len(orphans)).Msg("Removing records of an unfinished batch")
		if err := s.deleteKeys(orphans); err != nil {
			return fmt.Errorf("clean badger index %s: %w", dir, err)
		}
	}
	s.logger.Debug().Str("path", dir).Int("records", kept).Msg("Badger index opened")
	return nil
}

// Upsert writes the batch in bounded transactions and commits it with a
// marker. On failure the records already written are deleted, so either
// every record is stored or none is.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.Validate(records, s.dimension)
	if err != nil {
		return err
	}

	batch := uuid.NewString()
	seq := s.nextSeq
	written := make([]string, 0, len(records))
	for start := 0; start < len(records); start += writeChunk {
		if err = ctx.Err(); err != nil {
			break
		}
		part := records[start:min(start+writeChunk, len(records))]
		ids := make([]string, 0, len(part))
		err = s.store.Badger().Update(func(tx *badger.Txn) error {
			for i, r := range part {
				id := r.ID
				if id == "" {
					id = uuid.NewString()
				}
				rec := vectorRecord{
					ID:         id,
					Seq:        seq + uint64(start+i),
					BatchID:    batch,
					SourcePath: r.Metadata.SourcePath,
					Text:       r.Text,
					Vector:     r.Vector,
				}
				if err := s.store.TxInsert(tx, id, rec); err != nil {
					return fmt.Errorf("insert record %s: %w", id, err)
				}
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			break
		}
		written = append(written, ids...)
	}
	if err == nil {
		err = s.store.Insert(batch, batchCommit{ID: batch, Records: len(records)})
	}
	if err != nil {
		if derr := s.deleteKeys(written); derr != nil {
			s.logger.Error().Err(derr).Str("batch", batch).Msg("Failed to roll back partial batch")
		}
		return fmt.Errorf("write batch of %d records: %w", len(records), err)
	}

	s.nextSeq = seq + uint64(len(records))
	s.dimension = dim
	s.logger.Debug().Int("records", len(records)).Str("batch", batch).Msg("Batch written to badger index")
	return nil
}

func (s *Storage) deleteKeys(ids []string) error {
	for start := 0; start < len(ids); start += writeChunk {
		part := ids[start:min(start+writeChunk, len(ids))]
		err := s.store.Badger().Update(func(tx *badger.Txn) error {
			for _, id := range part {
				if err := s.store.TxDelete(tx, id, vectorRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Search ranks stored records against vector, restricted to sources when
// non-empty.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int, sources []string) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var query *badgerhold.Query
	if len(sources) > 0 {
		values := make([]interface{}, len(sources))
		for i, src := range sources {
			values[i] = src
		}
		query = badgerhold.Where("SourcePath").In(values...)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []vectorRecord
	if err := s.store.Find(&recs, query); err != nil {
		return nil, fmt.Errorf("search badger index: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	candidates := make([]vectorstore.Candidate, len(recs))
	for i, r := range recs {
		candidates[i] = vectorstore.Candidate{
			Text:     r.Text,
			Metadata: domain.Metadata{SourcePath: r.SourcePath},
			Vector:   r.Vector,
		}
	}
	return vectorstore.Rank(vector, candidates, topK), nil
}

// ListMetadata returns the metadata of every record in insertion order.
func (s *Storage) ListMetadata(ctx context.Context) ([]domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []vectorRecord
	if err := s.store.Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("list badger index: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	out := make([]domain.Metadata, len(recs))
	for i, r := range recs {
		out[i] = domain.Metadata{SourcePath: r.SourcePath}
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
