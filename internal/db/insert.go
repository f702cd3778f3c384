package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BulkInsertOutcome describes which documents of an unordered InsertMany
// were stored. Indices refer to positions in the submitted slice.
type BulkInsertOutcome struct {
	Inserted   []int
	Duplicates []int
	// DuplicateMessages keeps the server message per duplicate so callers can
	// tell which unique index was violated.
	DuplicateMessages map[int]string
	// Failed holds non-duplicate write errors keyed by document index.
	Failed map[int]error
}

// DuplicatesOnIndex returns the duplicate indices whose violation was raised
// by an index whose name contains indexField.
func (o BulkInsertOutcome) DuplicatesOnIndex(indexField string) []int {
	var out []int
	for _, i := range o.Duplicates {
		if strings.Contains(o.DuplicateMessages[i], indexField) {
			out = append(out, i)
		}
	}
	return out
}

// InsertManyTolerant inserts docs unordered so that one duplicate does not
// stop the rest of the batch. Per-document write errors are reported in the
// outcome; only failures of the whole call (network, auth, write concern)
// are returned as err.
func InsertManyTolerant(ctx context.Context, coll *mongo.Collection, docs []interface{}) (BulkInsertOutcome, error) {
	outcome := BulkInsertOutcome{
		DuplicateMessages: map[int]string{},
		Failed:            map[int]error{},
	}
	if len(docs) == 0 {
		return outcome, nil
	}

	_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		outcome.Inserted = make([]int, len(docs))
		for i := range docs {
			outcome.Inserted[i] = i
		}
		return outcome, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return outcome, fmt.Errorf("bulk insert failed: %w", err)
	}
	return ClassifyBulkWriteErrors(len(docs), bwe.WriteErrors), nil
}

// ClassifyBulkWriteErrors splits the documents of a batch of size n into
// inserted, duplicate and failed positions.
func ClassifyBulkWriteErrors(n int, writeErrors []mongo.BulkWriteError) BulkInsertOutcome {
	outcome := BulkInsertOutcome{
		DuplicateMessages: map[int]string{},
		Failed:            map[int]error{},
	}
	failed := make(map[int]bool, len(writeErrors))
	for _, we := range writeErrors {
		failed[we.Index] = true
		if isDuplicateKeyCode(we.Code) {
			outcome.Duplicates = append(outcome.Duplicates, we.Index)
			outcome.DuplicateMessages[we.Index] = we.Message
			continue
		}
		outcome.Failed[we.Index] = fmt.Errorf("write error %d: %s", we.Code, we.Message)
	}
	for i := 0; i < n; i++ {
		if !failed[i] {
			outcome.Inserted = append(outcome.Inserted, i)
		}
	}
	sort.Ints(outcome.Duplicates)
	return outcome
}
