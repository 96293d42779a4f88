package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gocql/gocql"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Options carries cluster settings. Kept separate from the app config so
// the adapter stays importable without it.
type Options struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Timeout           time.Duration
	Consistency       gocql.Consistency
	ReplicationFactor int
}

// NewSession ensures schema exists and returns a connected session.
func NewSession(opts Options, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(opts.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", opts.Keyspace)
	}

	baseCluster := gocql.NewCluster(opts.Hosts...)
	baseCluster.Timeout = opts.Timeout
	baseCluster.Consistency = opts.Consistency
	setAuth(baseCluster, opts)

	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(context.Background(), baseSession, opts); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Timeout = opts.Timeout
	cluster.Keyspace = opts.Keyspace
	cluster.Consistency = opts.Consistency
	setAuth(cluster, opts)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", opts.Keyspace, err)
	}
	if err := ensureTables(context.Background(), session, opts); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", opts.Hosts, "keyspace", opts.Keyspace)
	}
	return session, nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, opts Options) error {
	rf := opts.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		opts.Keyspace, rf,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, opts Options) error {
	// Message ids are bigint and encode (millis << 20 | seq), so clustering
	// by id alone preserves (created_at, id) order.
	messages := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	id bigint,
	sender_id text,
	body text,
	kind text,
	created_at timestamp,
	PRIMARY KEY (conversation_id, id)
) WITH CLUSTERING ORDER BY (id DESC);`, opts.Keyspace)
	if err := session.Query(messages).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	receipts := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.receipts (
	conversation_id text,
	message_id bigint,
	user_id text,
	status text,
	updated_at timestamp,
	PRIMARY KEY (conversation_id, message_id, user_id)
);`, opts.Keyspace)
	if err := session.Query(receipts).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create receipts table: %w", err)
	}
	return nil
}

func setAuth(cluster *gocql.ClusterConfig, opts Options) {
	if opts.Username == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: opts.Username,
		Password: opts.Password,
	}
	// avoid long stalls on auth/connect
	cluster.ConnectTimeout = opts.Timeout
	cluster.Timeout = opts.Timeout
}
