package web

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/funnyzak/trafficcmp/internal/storage"
)

// StoredTriple is an alias of storage.StoredTriple so handlers read naturally.
type StoredTriple = storage.StoredTriple

// ListOptions is an alias of storage.ListOptions.
type ListOptions = storage.ListOptions

var json = jsoniter.ConfigCompatibleWithStandardLibrary
