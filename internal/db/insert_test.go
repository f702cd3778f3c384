package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassifyBulkWriteErrors(t *testing.T) {
	writeErrors := []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 3, Code: 11000, Message: "index: " + IndexConsolidatedPeriod + " dup key"}},
		{WriteError: mongo.WriteError{Index: 1, Code: 11000, Message: "index: " + IndexInvoiceNumber + " dup key"}},
		{WriteError: mongo.WriteError{Index: 4, Code: 121, Message: "Document failed validation"}},
	}

	outcome := ClassifyBulkWriteErrors(5, writeErrors)

	assert.Equal(t, []int{0, 2}, outcome.Inserted)
	assert.Equal(t, []int{1, 3}, outcome.Duplicates)
	assert.Equal(t, []int{1}, outcome.DuplicatesOnIndex(IndexInvoiceNumber))
	assert.Equal(t, []int{3}, outcome.DuplicatesOnIndex(IndexConsolidatedPeriod))
	assert.Len(t, outcome.Failed, 1)
	assert.Contains(t, outcome.Failed[4].Error(), "121")
}

func TestClassifyBulkWriteErrors_NoErrors(t *testing.T) {
	outcome := ClassifyBulkWriteErrors(2, nil)
	assert.Equal(t, []int{0, 1}, outcome.Inserted)
	assert.Empty(t, outcome.Duplicates)
	assert.Empty(t, outcome.Failed)
}
