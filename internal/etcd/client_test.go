package etcd

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// memoryKV serves Get and Put from a map
type memoryKV struct {
	clientv3.KV
	data     map[string]string
	revision int64
	failGet  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}}
}

func (m *memoryKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	op := clientv3.OpGet(key, opts...)
	prefix := len(op.RangeBytes()) > 0

	var keys []string
	for k := range m.data {
		if k == key || (prefix && strings.HasPrefix(k, key)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := &clientv3.GetResponse{Header: &etcdserverpb.ResponseHeader{Revision: m.revision}}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k]), ModRevision: m.revision})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (m *memoryKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.revision++
	m.data[key] = val
	return &clientv3.PutResponse{Header: &etcdserverpb.ResponseHeader{Revision: m.revision}}, nil
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name      string
		dsn       string
		endpoints []string
		prefix    string
		timeout   time.Duration
		tls       bool
		user      string
	}{
		{"empty", "", []string{"127.0.0.1:2379"}, DefaultPrefix, 5 * time.Second, false, ""},
		{"single host", "etcd://etcd1/lists", []string{"etcd1:2379"}, "/lists", 5 * time.Second, false, ""},
		{"cluster", "etcd://h1:2379,h2:22379/a/b/", []string{"h1:2379", "h2:22379"}, "/a/b", 5 * time.Second, false, ""},
		{"options", "etcd://h1:2379?dial_timeout=2s&username=u&password=p&tls=enabled", []string{"h1:2379"}, DefaultPrefix, 2 * time.Second, true, "u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, prefix, err := ParseDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.endpoints, cfg.Endpoints)
			assert.Equal(t, tt.prefix, prefix)
			assert.Equal(t, tt.timeout, cfg.DialTimeout)
			assert.Equal(t, tt.tls, cfg.TLS != nil)
			assert.Equal(t, tt.user, cfg.Username)
		})
	}
}

func TestParseDSNErrors(t *testing.T) {
	for _, dsn := range []string{
		"http://localhost:2379",
		"etcd://h1?dial_timeout=soon",
		"etcd://h1?tls=maybe",
	} {
		_, _, err := ParseDSN(dsn)
		assert.Error(t, err, dsn)
	}
}

func TestClientListAndPut(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	c := NewFromKV(kv, "state/")
	assert.Equal(t, "/state", c.Prefix())
	assert.Equal(t, "/state/b", c.Key("b"))

	require.NoError(t, c.Put(ctx, c.Key("b"), "2"))
	require.NoError(t, c.Put(ctx, c.Key("a"), "1"))
	require.NoError(t, c.Put(ctx, "/stateful/other", "x"))

	pairs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "/state/a", pairs[0].Key)
	assert.Equal(t, "1", pairs[0].Value)
	assert.Equal(t, "/state/b", pairs[1].Key)

	got, err := c.Get(ctx, c.Key("a"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Value)

	missing, err := c.Get(ctx, c.Key("zzz"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClientListError(t *testing.T) {
	kv := newMemoryKV()
	kv.failGet = errors.New("etcdserver: request timed out")
	c := NewFromKV(kv, "/state")

	_, err := c.List(context.Background())
	assert.ErrorContains(t, err, "failed to list keys below /state")
	assert.NoError(t, c.Close())
}

func TestClientAgainstEtcd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/coreos/etcd:v3.5.9",
			ExposedPorts: []string{"2379/tcp"},
			Env: map[string]string{
				"ETCD_ADVERTISE_CLIENT_URLS":       "http://0.0.0.0:2379",
				"ETCD_LISTEN_CLIENT_URLS":          "http://0.0.0.0:2379",
				"ETCD_LISTEN_PEER_URLS":            "http://0.0.0.0:2380",
				"ETCD_INITIAL_ADVERTISE_PEER_URLS": "http://0.0.0.0:2380",
				"ETCD_INITIAL_CLUSTER":             "default=http://0.0.0.0:2380",
				"ETCD_NAME":                        "default",
			},
			WaitingFor: wait.ForListeningPort("2379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := NewWithRetry(ctx, "etcd://"+endpoint+"/it")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, c.Key("list"), `{"list_id":"list"}`))
	pairs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "/it/list", pairs[0].Key)
}
