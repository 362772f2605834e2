// Package repo is the MongoDB-backed persistence layer for sessions, agent
// logs, factors, trader state, and forecaster responses, grounded on
// original_source/backend/app/db/repositories.py's BaseRepository/
// QueryBuilder pair and internal/persist/store.go's connection
// pattern (ndrandal-feed-simulator/go-feed).
package repo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// Store wraps the Mongo client/database and exposes one repository per
// logical table. All writes carry a generated UUID when id is absent and a
// UTC timestamp when the row's lifecycle demands one.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logging.Logger

	Sessions    *SessionRepo
	AgentLogs   *AgentLogRepo
	Factors     *FactorRepo
	Traders     *TraderRepo
	Responses   *ForecasterResponseRepo
}

// Connect dials MongoDB and returns a Store with all five repositories
// wired. Only this initialization step tolerates the store being
// unavailable — the orchestrator surfaces a connect error to its caller
// before any session starts; mid-run failures from the repositories
// themselves propagate as ordinary errors instead.
func Connect(ctx context.Context, uri string) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "forecastmarket"
	if u, perr := url.Parse(uri); perr == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db, log: logging.New("DB")}

	s.Sessions = &SessionRepo{base{db.Collection("sessions"), s.log}}
	s.AgentLogs = &AgentLogRepo{base{db.Collection("agent_logs"), s.log}}
	s.Factors = &FactorRepo{base{db.Collection("factors"), s.log}}
	s.Traders = &TraderRepo{base{db.Collection("trader_state"), s.log}}
	s.Responses = &ForecasterResponseRepo{base{db.Collection("forecaster_responses"), s.log}}

	s.log.Infof("connected to MongoDB (db=%s)", dbName)
	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
