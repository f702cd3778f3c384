package db

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// RetryPredicate decides whether a failed operation should be attempted again.
type RetryPredicate func(err error) bool

const DefaultMaxRetries = 3

// WithRetries executes op, retrying up to maxRetries times while shouldRetry
// accepts the returned error.
func WithRetries(op Operation, maxRetries int, shouldRetry RetryPredicate) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !shouldRetry(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// isDuplicateKeyCode covers the codes servers have used for unique index violations.
func isDuplicateKeyCode(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error.
func IsMongoDuplicateKeyError(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if isDuplicateKeyCode(we.Code) {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if isDuplicateKeyCode(we.Code) {
				return true
			}
		}
	}
	return false
}

// IsDuplicateOnIndex reports whether err is a duplicate key error raised by
// an index whose name contains indexField.
func IsDuplicateOnIndex(err error, indexField string) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if isDuplicateKeyCode(we.Code) && strings.Contains(we.Message, indexField) {
				return true
			}
		}
	}
	return false
}
