package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultDatabase is used when the connection string names no database.
const DefaultDatabase = "mongo-signup"

// UsersCollection is the collection holding registered accounts.
const UsersCollection = "users"

// Handle wraps a live MongoDB session and the database selected by the
// connection string.
type Handle struct {
	client *mongo.Client
	db     *mongo.Database
}

// Options tunes a single connection attempt.
type Options struct {
	URI string
	// ServerSelectionTimeout bounds how long Connect waits for a reachable
	// server. Zero keeps the driver default (30s).
	ServerSelectionTimeout time.Duration
}

// Connect makes one attempt to reach the server at opts.URI and verifies it
// with a ping. It never retries.
func Connect(ctx context.Context, opts Options) (*Handle, error) {
	name, err := DatabaseName(opts.URI)
	if err != nil {
		return nil, err
	}

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("unable to create mongo client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Handle{client: client, db: client.Database(name)}, nil
}

// DatabaseName validates a connection string with the driver and extracts
// the database from its path, falling back to DefaultDatabase when the path
// is empty.
func DatabaseName(uri string) (string, error) {
	if err := options.Client().ApplyURI(uri).Validate(); err != nil {
		return "", fmt.Errorf("unable to parse connection string: %w", err)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("unable to parse connection string: %w", err)
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name, nil
	}
	return DefaultDatabase, nil
}

// Name returns the selected database name.
func (h *Handle) Name() string {
	return h.db.Name()
}

// Collection returns a handle to the named collection.
func (h *Handle) Collection(name string) *mongo.Collection {
	return h.db.Collection(name)
}

// Users returns the users collection.
func (h *Handle) Users() *mongo.Collection {
	return h.Collection(UsersCollection)
}

// Ping checks the server is still reachable.
func (h *Handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. It is safe to call on a nil handle.
func (h *Handle) Close(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	if err := h.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("unable to close database connection: %w", err)
	}
	return nil
}
