package state

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/list_sync/internal/etcd"
)

// memoryKV serves Get and Put from a map
type memoryKV struct {
	clientv3.KV
	data map[string]string
}

func (m *memoryKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	prefix := len(clientv3.OpGet(key, opts...).RangeBytes()) > 0
	var keys []string
	for k := range m.data {
		if k == key || (prefix && strings.HasPrefix(k, key)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{Header: &etcdserverpb.ResponseHeader{}}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k])})
	}
	return resp, nil
}

func (m *memoryKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.data[key] = val
	return &clientv3.PutResponse{Header: &etcdserverpb.ResponseHeader{}}, nil
}

func newEtcdStore(data map[string]string) (*EtcdStore, *memoryKV) {
	kv := &memoryKV{data: data}
	return NewEtcdStore(etcd.NewFromKV(kv, "/list_sync")), kv
}

func TestEtcdStoreLoad(t *testing.T) {
	s, _ := newEtcdStore(map[string]string{
		"/list_sync/b": `{"list_id": "b", "latest_timestamp": "2019-10-29T16:52:05"}`,
		"/list_sync/a": `{"list_id": "a", "worker_count": 4}`,
		"/other/c":     `{"list_id": "c"}`,
	})

	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].SourceID)
	assert.Equal(t, 4, *entries[0].WorkerCount)
	assert.Equal(t, "b", entries[1].SourceID)
	assert.NotNil(t, entries[1].LastSync())
}

func TestEtcdStoreLoadCorrupt(t *testing.T) {
	s, _ := newEtcdStore(map[string]string{"/list_sync/a": `{"list_id": `})
	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "/list_sync/a")
}

func TestEtcdStoreRecord(t *testing.T) {
	s, kv := newEtcdStore(map[string]string{
		"/list_sync/a": `{"list_id": "a", "items_per_request": 50}`,
	})

	started := time.Date(2023, 3, 4, 5, 6, 7, 0, time.Local)
	require.NoError(t, s.Record(context.Background(), RunRecord{
		SourceID:       "a",
		StartedAt:      started,
		ElapsedSeconds: 0.7,
		TotalUpdates:   12,
	}))

	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(kv.data["/list_sync/a"]), &obj))
	assert.Equal(t, "2023-03-04T05:06:07", obj["latest_timestamp"])
	assert.Equal(t, 0.7, obj["elapsed_seconds"])
	assert.Equal(t, float64(12), obj["total_updates"])
	assert.Equal(t, float64(50), obj["items_per_request"])

	err := s.Record(context.Background(), RunRecord{SourceID: "missing", StartedAt: started})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Close())
}
