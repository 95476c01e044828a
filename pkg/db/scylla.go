// Package db holds the message history archive kept in ScyllaDB.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/dupahar-realtime/pkg/config"
)

type Session struct {
	*gocql.Session
}

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

// NewSession connects to the configured keyspace.
func NewSession(cfg config.Scylla) (*Session, error) {
	session, err := newCluster(cfg.Hosts, cfg.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v: %w", cfg.Hosts, err)
	}
	return &Session{Session: session}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		author_id text,
		text text,
		reply_to_id bigint,
		attachments list<text>,
		edited boolean,
		deleted_at timestamp,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
}

// EnsureSchema creates the keyspace through the system keyspace, then the
// archive tables. Production deployments run this once from a migration job.
func EnsureSchema(ctx context.Context, cfg config.Scylla) error {
	sys, err := newCluster(cfg.Hosts, "system").CreateSession()
	if err != nil {
		return fmt.Errorf("connect scylla system keyspace: %w", err)
	}
	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, cfg.Keyspace)
	err = sys.Query(stmt).WithContext(ctx).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", cfg.Keyspace, err)
	}

	s, err := NewSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	for _, stmt := range schema {
		if err := s.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
