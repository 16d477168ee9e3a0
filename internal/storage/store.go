package storage

import (
	"errors"
	"time"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// ErrUnsupportedDriver indicates the configured driver is not available.
var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// ErrUnlinkedPair is returned when a pair has no corresponding shadow pair.
var ErrUnlinkedPair = errors.New("pair has no corresponding pair")

// ListOptions controls filtering and pagination when fetching triples.
type ListOptions struct {
	Search string
	Method string
	// Mismatched keeps only triples whose primary and shadow status codes differ
	Mismatched bool
	Limit      int
	Offset     int
}

// StoredTriple is a persisted request with both of its responses.
// Primary and Shadow share one Request and reference each other.
type StoredTriple struct {
	ID       string                       `json:"id"`
	LoadedAt time.Time                    `json:"loaded_at"`
	Primary  *traffic.RequestResponsePair `json:"primary"`
	Shadow   *traffic.RequestResponsePair `json:"shadow"`
}

// Store defines the persistence contract for loaded triples.
type Store interface {
	// Record stores the triple formed by primary and its corresponding pair.
	Record(primary *traffic.RequestResponsePair) (*StoredTriple, error)
	// RecordStreams stores parallel streams in one transaction and returns the count.
	RecordStreams(primary, shadow traffic.RequestResponseStream) (int, error)
	List(ListOptions) ([]*StoredTriple, int, error)
	Iterate(ListOptions, func(*StoredTriple) bool) error
	Get(string) (*StoredTriple, error)

	Close() error
}

// New instantiates a Store based on configuration.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	switch driver := cfg.Driver; driver {
	case "", "sqlite", "sqlite3":
		return newSQLiteStore(cfg, log)
	default:
		return nil, ErrUnsupportedDriver
	}
}
