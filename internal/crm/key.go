package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// cacheKey derives a stable key from a method and its parameters. Parameters
// are round-tripped through a generic value so that object keys are emitted
// in sorted order at every depth: filters that differ only in key order share
// a cache entry.
func cacheKey(method string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("could not encode parameters for cache key: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("could not normalize parameters for cache key: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("could not encode parameters for cache key: %w", err)
	}

	return method + ":" + string(canonical), nil
}
