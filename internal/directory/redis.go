// Package directory adapts the EMR's patient and provider records to the
// Directory lookup the telehealth service needs. Records are JSON documents
// in the shared store; this package only reads the display name.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// record is the slice of a person document this adapter cares about.
type record struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// RedisDirectory looks people up under "{prefix}:{id}" keys.
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

// NewPatients returns the patient directory adapter.
func NewPatients(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: "patient"}
}

// NewProviders returns the provider directory adapter.
func NewProviders(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: "provider"}
}

// DisplayName resolves a user id to a human-readable name. Falls back to
// "First Last" when the document carries no display_name.
func (d *RedisDirectory) DisplayName(ctx context.Context, id string) (string, error) {
	data, err := d.client.Get(ctx, d.prefix+":"+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s %s not found", d.prefix, id)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s %s: %w", d.prefix, id, err)
	}

	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return "", fmt.Errorf("parse %s %s: %w", d.prefix, id, err)
	}
	if rec.DisplayName != "" {
		return rec.DisplayName, nil
	}
	if rec.FirstName != "" || rec.LastName != "" {
		return rec.FirstName + " " + rec.LastName, nil
	}
	return "", fmt.Errorf("%s %s has no name on record", d.prefix, id)
}
