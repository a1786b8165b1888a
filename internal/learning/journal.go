package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	mappingsBucketName = "learned_mappings"
	missingBucketName  = "missing_terms"
)

// ErrNotFound is returned when the journal has no entry for a term
var ErrNotFound = errors.New("not found in journal")

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// LearnedMapping is the latest accepted exam for a folded term
type LearnedMapping struct {
	OriginalTerm    string    `json:"original_term"`
	CorrectExamName string    `json:"correct_exam_name"`
	Count           int       `json:"count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Occurrence is one time a term was dropped for lack of a match
type Occurrence struct {
	Unit string    `json:"unit"`
	At   time.Time `json:"at"`
}

// MissingTerm collects the occurrences of a term nothing in the catalog matched
type MissingTerm struct {
	Term        string       `json:"term"`
	Status      string       `json:"status"`
	Occurrences []Occurrence `json:"occurrences"`
}

// BoltJournal keeps learned mappings and missing terms in a local BoltDB file.
// It is both a Sink and a MissingTermRecorder.
type BoltJournal struct {
	db         *bbolt.DB
	timeSource TimeSource
}

// NewBoltJournal opens (or creates) the journal at path
func NewBoltJournal(path string) (*BoltJournal, error) {
	return NewBoltJournalWithDeps(path, defaultTimeSource{})
}

// NewBoltJournalWithDeps opens the journal with a custom time source for testing
func NewBoltJournalWithDeps(path string, timeSource TimeSource) (*BoltJournal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{mappingsBucketName, missingBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltJournal{db: db, timeSource: timeSource}, nil
}

// Learn stores acceptedName as the mapping for originalTerm, replacing any earlier one
func (j *BoltJournal) Learn(ctx context.Context, originalTerm string, acceptedName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := Key(originalTerm)
	if key == "" || strings.TrimSpace(acceptedName) == "" {
		return fmt.Errorf("original term and accepted name are required")
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(mappingsBucketName))

		var mapping LearnedMapping
		if data := bucket.Get([]byte(key)); data != nil {
			if err := json.Unmarshal(data, &mapping); err != nil {
				return fmt.Errorf("unmarshaling mapping: %w", err)
			}
		}
		mapping.OriginalTerm = strings.TrimSpace(originalTerm)
		mapping.CorrectExamName = strings.TrimSpace(acceptedName)
		mapping.Count++
		mapping.UpdatedAt = j.timeSource.Now()

		data, err := json.Marshal(mapping)
		if err != nil {
			return fmt.Errorf("marshaling mapping: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// LookupMapping returns the learned mapping for a term
func (j *BoltJournal) LookupMapping(term string) (*LearnedMapping, error) {
	var mapping *LearnedMapping
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(mappingsBucketName)).Get([]byte(Key(term)))
		if data == nil {
			return fmt.Errorf("mapping for %q: %w", term, ErrNotFound)
		}
		return json.Unmarshal(data, &mapping)
	})
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// ListMappings returns every learned mapping ordered by folded term
func (j *BoltJournal) ListMappings() ([]*LearnedMapping, error) {
	mappings := make([]*LearnedMapping, 0)
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mappingsBucketName)).ForEach(func(k, v []byte) error {
			var mapping LearnedMapping
			if err := json.Unmarshal(v, &mapping); err != nil {
				return fmt.Errorf("unmarshaling mapping: %w", err)
			}
			mappings = append(mappings, &mapping)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// RecordMissing appends an occurrence for a term that had no catalog match
func (j *BoltJournal) RecordMissing(ctx context.Context, unit string, term string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := Key(term)
	if key == "" {
		return fmt.Errorf("term is required")
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(missingBucketName))

		missing := MissingTerm{Term: strings.TrimSpace(term), Status: "pending"}
		if data := bucket.Get([]byte(key)); data != nil {
			if err := json.Unmarshal(data, &missing); err != nil {
				return fmt.Errorf("unmarshaling missing term: %w", err)
			}
		}
		missing.Occurrences = append(missing.Occurrences, Occurrence{
			Unit: unit,
			At:   j.timeSource.Now(),
		})

		data, err := json.Marshal(missing)
		if err != nil {
			return fmt.Errorf("marshaling missing term: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// ListMissing returns every recorded missing term ordered by folded term
func (j *BoltJournal) ListMissing() ([]*MissingTerm, error) {
	terms := make([]*MissingTerm, 0)
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(missingBucketName)).ForEach(func(k, v []byte) error {
			var missing MissingTerm
			if err := json.Unmarshal(v, &missing); err != nil {
				return fmt.Errorf("unmarshaling missing term: %w", err)
			}
			terms = append(terms, &missing)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return terms, nil
}

// Close closes the database
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
