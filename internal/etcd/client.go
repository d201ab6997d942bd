// Package etcd provides the etcd client used by the etcd state backend.
package etcd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/list_sync/internal/retry"
)

const (
	defaultEndpoint    = "127.0.0.1:2379"
	defaultDialTimeout = 5 * time.Second
	// DefaultPrefix is used when the DSN carries no path
	DefaultPrefix = "/list_sync"
)

// KeyValue is a single etcd entry
type KeyValue struct {
	Key      string
	Value    string
	Revision int64
}

// Client reads and writes keys below a prefix
type Client struct {
	kv     clientv3.KV
	conn   *clientv3.Client
	prefix string
}

// New connects to the cluster described by dsn
func New(dsn string) (*Client, error) {
	config, prefix, err := ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	conn, err := clientv3.New(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"endpoints": config.Endpoints,
		"prefix":    prefix,
	}).Info("Connected to etcd successfully")

	return &Client{kv: conn, conn: conn, prefix: prefix}, nil
}

// NewFromKV wraps an existing KV, e.g. a namespaced or in-memory one
func NewFromKV(kv clientv3.KV, prefix string) *Client {
	return &Client{kv: kv, prefix: normalizePrefix(prefix)}
}

// NewWithRetry connects and retries until the cluster answers a read
func NewWithRetry(ctx context.Context, dsn string) (*Client, error) {
	if _, _, err := ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	var client *Client
	err := retry.Do(ctx, retry.ConnectPolicy(), "etcd connect", func(ctx context.Context) error {
		c, err := New(dsn)
		if err != nil {
			return err
		}
		if _, err := c.Get(ctx, "healthcheck"); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, err
	}
	return client, nil
}

// Close closes the etcd client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Prefix returns the key prefix all entries live under
func (c *Client) Prefix() string {
	return c.prefix
}

// Key returns the full key of name below the prefix
func (c *Client) Key(name string) string {
	return strings.TrimRight(c.prefix, "/") + "/" + name
}

// List returns every entry below the prefix sorted by key
func (c *Client) List(ctx context.Context) ([]KeyValue, error) {
	resp, err := c.kv.Get(ctx, strings.TrimRight(c.prefix, "/")+"/",
		clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys below %s: %w", c.prefix, err)
	}

	pairs := make([]KeyValue, len(resp.Kvs))
	for i, kv := range resp.Kvs {
		pairs[i] = KeyValue{
			Key:      string(kv.Key),
			Value:    string(kv.Value),
			Revision: kv.ModRevision,
		}
	}

	logrus.WithFields(logrus.Fields{
		"prefix": c.prefix,
		"count":  len(pairs),
	}).Debug("Retrieved keys from etcd")
	return pairs, nil
}

// Get retrieves a single key, returning nil if it does not exist
func (c *Client) Get(ctx context.Context, key string) (*KeyValue, error) {
	resp, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := resp.Kvs[0]
	return &KeyValue{Key: string(kv.Key), Value: string(kv.Value), Revision: kv.ModRevision}, nil
}

// Put stores a key-value pair
func (c *Client) Put(ctx context.Context, key, value string) error {
	resp, err := c.kv.Put(ctx, key, value)
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	if resp != nil && resp.Header != nil {
		logrus.WithFields(logrus.Fields{
			"key":      key,
			"revision": resp.Header.Revision,
		}).Debug("Put key to etcd")
	}
	return nil
}

// ParseDSN parses etcd://host1:port1[,host2:port2]/[prefix]?param=value
func ParseDSN(dsn string) (*clientv3.Config, string, error) {
	config := &clientv3.Config{
		Endpoints:   []string{defaultEndpoint},
		DialTimeout: defaultDialTimeout,
	}
	if dsn == "" {
		return config, DefaultPrefix, nil
	}
	if !strings.HasPrefix(dsn, "etcd://") {
		return nil, "", fmt.Errorf("etcd DSN must start with etcd://")
	}

	// url.Parse does not accept a comma separated host list with ports
	u, err := url.Parse("dummy://" + strings.TrimPrefix(dsn, "etcd://"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse DSN: %w", err)
	}

	if u.Host != "" {
		endpoints := strings.Split(u.Host, ",")
		for i, endpoint := range endpoints {
			if !strings.Contains(endpoint, ":") {
				endpoints[i] = endpoint + ":2379"
			}
		}
		config.Endpoints = endpoints
	}

	params := u.Query()
	if timeout := params.Get("dial_timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, "", fmt.Errorf("invalid dial_timeout %q: %w", timeout, err)
		}
		config.DialTimeout = d
	}
	config.Username = params.Get("username")
	config.Password = params.Get("password")

	switch params.Get("tls") {
	case "", "disabled":
	case "enabled":
		config.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	case "insecure":
		config.TLS = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly requested in the DSN
	default:
		return nil, "", fmt.Errorf("unsupported tls mode %q", params.Get("tls"))
	}

	return config, normalizePrefix(u.Path), nil
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
