package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mongo-signup/server/internal/config"
	"github.com/mongo-signup/server/internal/database"
	"github.com/mongo-signup/server/internal/users"
)

// Store is the database-backed state the auth routes depend on.
type Store interface {
	Users() users.Repository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ConnectFunc makes a single attempt to open a Store.
type ConnectFunc func(ctx context.Context) (Store, error)

type mongoStore struct {
	handle *database.Handle
	users  *users.MongoRepository
}

func (s *mongoStore) Users() users.Repository { return s.users }
func (s *mongoStore) Ping(ctx context.Context) error { return s.handle.Ping(ctx) }
func (s *mongoStore) Close(ctx context.Context) error { return s.handle.Close(ctx) }

// MongoConnector connects to cfg.MongoURI and prepares the users collection.
// A failure to create indexes is logged and does not fail the connection.
func MongoConnector(cfg *config.Config, logger zerolog.Logger) ConnectFunc {
	return func(ctx context.Context) (Store, error) {
		h, err := database.Connect(ctx, database.Options{
			URI:                    cfg.MongoURI,
			ServerSelectionTimeout: cfg.DBConnectTimeout,
		})
		if err != nil {
			return nil, err
		}

		repo := users.NewMongoRepository(h.Users())
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Str("database", h.Name()).Msg("could not ensure users indexes")
		}
		return &mongoStore{handle: h, users: repo}, nil
	}
}
