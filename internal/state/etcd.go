package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/etcd"
)

// EtcdStore keeps one JSON entry per list at <prefix>/<list_id>
type EtcdStore struct {
	client *etcd.Client
}

// OpenEtcd connects to the cluster named by dsn
func OpenEtcd(ctx context.Context, dsn string) (*EtcdStore, error) {
	client, err := etcd.NewWithRetry(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdStore(client), nil
}

// NewEtcdStore uses an existing client
func NewEtcdStore(client *etcd.Client) *EtcdStore {
	return &EtcdStore{client: client}
}

// Load returns the entries sorted by key
func (s *EtcdStore) Load(ctx context.Context) ([]Entry, error) {
	pairs, err := s.client.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(pairs))
	for _, kv := range pairs {
		var e Entry
		if err := json.Unmarshal([]byte(kv.Value), &e); err != nil {
			return nil, fmt.Errorf("state key %s: %w", kv.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Record patches the run fields of the list's key
func (s *EtcdStore) Record(ctx context.Context, rec RunRecord) error {
	key := s.client.Key(rec.SourceID)
	kv, err := s.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if kv == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.SourceID)
	}
	value, err := applyRunRecord(json.RawMessage(kv.Value), rec)
	if err != nil {
		return fmt.Errorf("state key %s: %w", key, err)
	}
	if err := s.client.Put(ctx, key, string(value)); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"source": rec.SourceID,
		"key":    key,
	}).Debug("State key updated")
	return nil
}

// Close closes the etcd connection
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
