// Package cache provides a Redis read-through layer over the document
// store for the hot resolve path. Cached documents are snapshots; writers
// must invalidate after committing a change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inkwell/api/internal/store"

	"github.com/redis/go-redis/v9"
)

type backingStore interface {
	GetDocument(ctx context.Context, documentID string) (*store.Document, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]store.Document, error)
}

// CachedStore decorates a document store with per-document and per-group
// Redis caching.
type CachedStore struct {
	inner       backingStore
	client      *redis.Client
	ttl         time.Duration
	docPrefix   string
	groupPrefix string
}

func NewCachedStore(redisURL string, inner backingStore, ttl time.Duration) (*CachedStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCachedStoreWithClient(client, inner, ttl), nil
}

func NewCachedStoreWithClient(client *redis.Client, inner backingStore, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		inner:       inner,
		client:      client,
		ttl:         ttl,
		docPrefix:   "doc:",
		groupPrefix: "group:",
	}
}

func (s *CachedStore) docKey(documentID string) string {
	return s.docPrefix + documentID
}

func (s *CachedStore) groupKey(groupID string) string {
	return s.groupPrefix + groupID
}

// GetDocument serves from Redis when warm, otherwise reads through and
// caches the hit. Misses in the backing store are not cached.
func (s *CachedStore) GetDocument(ctx context.Context, documentID string) (*store.Document, error) {
	cached, err := s.client.Get(ctx, s.docKey(documentID)).Result()
	if err == nil {
		var doc store.Document
		if err := json.Unmarshal([]byte(cached), &doc); err == nil {
			return &doc, nil
		}
		// Undecodable entry: drop it and fall through to the store.
		_ = s.client.Del(ctx, s.docKey(documentID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache get document %s: %w", documentID, err)
	}

	doc, err := s.inner.GetDocument(ctx, documentID)
	if err != nil || doc == nil {
		return doc, err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cached document %s: %w", documentID, err)
	}
	if err := s.client.Set(ctx, s.docKey(documentID), encoded, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("cache set document %s: %w", documentID, err)
	}
	return doc, nil
}

func (s *CachedStore) GetGroupMembers(ctx context.Context, groupID string) ([]store.Document, error) {
	cached, err := s.client.Get(ctx, s.groupKey(groupID)).Result()
	if err == nil {
		var members []store.Document
		if err := json.Unmarshal([]byte(cached), &members); err == nil {
			return members, nil
		}
		_ = s.client.Del(ctx, s.groupKey(groupID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache get group %s: %w", groupID, err)
	}

	members, err := s.inner.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("encode cached group %s: %w", groupID, err)
	}
	if err := s.client.Set(ctx, s.groupKey(groupID), encoded, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("cache set group %s: %w", groupID, err)
	}
	return members, nil
}

// Invalidate drops the cached entries touched by a document write. groupID
// may be empty when the document belongs to no group.
func (s *CachedStore) Invalidate(ctx context.Context, documentID, groupID string) error {
	keys := []string{s.docKey(documentID)}
	if groupID != "" {
		keys = append(keys, s.groupKey(groupID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", documentID, err)
	}
	return nil
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}

func (s *CachedStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
