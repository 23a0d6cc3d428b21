package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/randomizedcoder/go-trace-latency/internal/correlate"
	"github.com/randomizedcoder/go-trace-latency/internal/stats"
)

// Collection names written by MongoSink.
const (
	MessagesCollection  = "messages"
	PairStatsCollection = "rank_pair_stats"
)

const (
	DefaultMongoBatchSize    = 1000
	DefaultMongoTimeout      = 10 * time.Second
	DefaultMongoPingAttempts = 4
)

// MongoConfig configures a MongoSink.
type MongoConfig struct {
	URI       string
	Database  string
	BatchSize int           // documents per InsertMany; 0 = DefaultMongoBatchSize
	Timeout   time.Duration // connect and ping timeout; 0 = DefaultMongoTimeout

	// PingAttempts bounds ping retries while the server comes up.
	// 0 = DefaultMongoPingAttempts.
	PingAttempts int
	Backoff      BackoffConfig // zero = DefaultBackoffConfig
}

// MessageDocument is one matched record in the messages collection.
type MessageDocument struct {
	RunID         string  `bson:"run_id"`
	LocalRank     string  `bson:"local_rank"`
	RemoteRank    string  `bson:"remote_rank"`
	UserType      string  `bson:"user_type"`
	Size          string  `bson:"size"`
	Latency       float64 `bson:"latency"`
	SendTimestamp float64 `bson:"send_ts"`
	RecvTimestamp float64 `bson:"recv_ts"`
}

// PairStatsDocument is one rank pair in the rank_pair_stats collection.
type PairStatsDocument struct {
	RunID        string `bson:"run_id"`
	PairDocument `bson:",inline"`
}

// MongoSink stores results in MongoDB, tagging every document with the
// run ID so several runs can share one database.
type MongoSink struct {
	client    *mongo.Client
	db        *mongo.Database
	batchSize int
	logger    *slog.Logger
}

// NewMongoSink connects to cfg.URI and verifies the connection.
func NewMongoSink(ctx context.Context, cfg MongoConfig, logger *slog.Logger) (*MongoSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultMongoBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMongoTimeout
	}
	if cfg.PingAttempts <= 0 {
		cfg.PingAttempts = DefaultMongoPingAttempts
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	ping := func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
	logRetry := func(attempt int, delay time.Duration, err error) {
		logger.Warn("mongo_ping_retry", "attempt", attempt, "delay", delay, "error", err)
	}
	backoff := NewBackoff(time.Now().UnixNano(), cfg.Backoff)
	if err := Retry(cctx, backoff, cfg.PingAttempts, ping, logRetry); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("mongo_connected", "database", cfg.Database)
	return &MongoSink{
		client:    client,
		db:        client.Database(cfg.Database),
		batchSize: cfg.BatchSize,
		logger:    logger,
	}, nil
}

// Write inserts the records and pair statistics of one run.
func (s *MongoSink) Write(ctx context.Context, runID string, records []correlate.MatchedRecord, pairs []stats.PairStats) error {
	msgs := MessageDocuments(runID, records)
	if err := s.insert(ctx, MessagesCollection, msgs); err != nil {
		return err
	}
	pairDocs := PairStatsDocuments(runID, pairs)
	if err := s.insert(ctx, PairStatsCollection, pairDocs); err != nil {
		return err
	}

	s.logger.Info("mongo_write_complete",
		"run_id", runID,
		"messages", len(msgs),
		"pairs", len(pairDocs),
	)
	return nil
}

// Delete removes every document of runID from both collections.
func (s *MongoSink) Delete(ctx context.Context, runID string) error {
	for _, name := range []string{MessagesCollection, PairStatsCollection} {
		if _, err := s.db.Collection(name).DeleteMany(ctx, bson.M{"run_id": runID}); err != nil {
			return fmt.Errorf("delete from %s: %w", name, err)
		}
	}
	return nil
}

// Count returns the number of documents of runID in collection.
func (s *MongoSink) Count(ctx context.Context, collection, runID string) (int64, error) {
	return s.db.Collection(collection).CountDocuments(ctx, bson.M{"run_id": runID})
}

func (s *MongoSink) insert(ctx context.Context, collection string, docs []interface{}) error {
	coll := s.db.Collection(collection)
	opts := options.InsertMany().SetOrdered(false)

	for start := 0; start < len(docs); start += s.batchSize {
		end := min(start+s.batchSize, len(docs))
		if _, err := coll.InsertMany(ctx, docs[start:end], opts); err != nil {
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MessageDocuments converts records for insertion.
func MessageDocuments(runID string, records []correlate.MatchedRecord) []interface{} {
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = MessageDocument{
			RunID:         runID,
			LocalRank:     r.Send.LocalRank,
			RemoteRank:    r.Send.RemoteRank,
			UserType:      r.Send.UserType,
			Size:          r.Send.Size,
			Latency:       r.Latency,
			SendTimestamp: r.Send.Timestamp,
			RecvTimestamp: r.Recv.Timestamp,
		}
	}
	return docs
}

// PairStatsDocuments converts pair statistics for insertion.
func PairStatsDocuments(runID string, pairs []stats.PairStats) []interface{} {
	pd := NewPairDocuments(pairs)
	docs := make([]interface{}, len(pd))
	for i, p := range pd {
		docs[i] = PairStatsDocument{RunID: runID, PairDocument: p}
	}
	return docs
}
