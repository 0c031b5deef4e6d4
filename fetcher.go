package apicache

import (
	"context"
	"encoding/json"
)

//go:generate mockgen -source=fetcher.go -destination=mock_fetcher.go -package=apicache

// Fetcher performs the network call for a lookup that cannot be served from the store.
// *transport.Transport implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) (json.RawMessage, error)
}
