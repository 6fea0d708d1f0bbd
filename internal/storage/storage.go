package storage

import "ammcore/internal/model"

// Storage defines a sink for replay results.
type Storage interface {
	PutResultBatch(results []model.OpResult) error
}
