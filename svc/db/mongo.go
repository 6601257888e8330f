package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"markpaste/pkg/domain"
)

type MongoConfig struct {
	URI                 string
	Database            string
	Collection          string
	AnalyticsCollection string
	QueryTimeout        time.Duration
}

// Mongo stores pastes in a collection with a TTL index on expiresAt, so the
// server removes expired documents on its own schedule.
type Mongo struct {
	client       *mongo.Client
	pastes       *mongo.Collection
	analytics    *mongo.Collection
	queryTimeout time.Duration
}

func NewMongo(ctx context.Context, mc MongoConfig) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	timeout := mc.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	db := client.Database(mc.Database)
	m := &Mongo{
		client:       client,
		pastes:       db.Collection(mc.Collection),
		analytics:    db.Collection(mc.AnalyticsCollection),
		queryTimeout: timeout,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := m.pastes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("id_unique"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expiresAt_ttl"),
		},
	})
	return errors.Wrap(err, "create paste indexes")
}
func (m *Mongo) Create(ctx context.Context, p *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	_, err := m.pastes.InsertOne(ctx, p)
	return errors.Wrap(err, "mongo create")
}

// Get returns the stored document even if it has expired but the TTL
// monitor has not removed it yet.
func (m *Mongo) Get(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	var p domain.Paste
	err := m.pastes.FindOne(ctx, bson.M{"id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongo get")
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	return &p, nil
}
func (m *Mongo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	_, err := m.pastes.DeleteOne(ctx, bson.M{"id": id})
	return errors.Wrap(err, "mongo delete")
}
func (m *Mongo) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	n, err := m.pastes.CountDocuments(ctx, bson.M{"id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "mongo exists")
	}
	return n > 0, nil
}
func (m *Mongo) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	res, err := m.pastes.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": before}})
	if err != nil {
		return 0, errors.Wrap(err, "mongo cleanup")
	}
	return int(res.DeletedCount), nil
}

// LoadCounters upserts the default record if it is missing and returns the
// stored one.
func (m *Mongo) LoadCounters(ctx context.Context, now time.Time) (*domain.Counters, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	update := bson.M{"$setOnInsert": bson.M{
		"totalPastes":    int64(0),
		"totalViews":     int64(0),
		"totalCopies":    int64(0),
		"totalShares":    int64(0),
		"pastesByDay":    bson.M{},
		"viewsByDay":     bson.M{},
		"copiesByDay":    bson.M{},
		"sharesByDay":    bson.M{},
		"activeIPs":      0,
		"avgPasteLength": float64(0),
		"lastUpdated":    now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var c domain.Counters
	err := m.analytics.FindOneAndUpdate(ctx, bson.M{"_id": domain.CountersID}, update, opts).Decode(&c)
	if mongo.IsDuplicateKeyError(err) {
		// lost an upsert race; the record exists now
		err = m.analytics.FindOne(ctx, bson.M{"_id": domain.CountersID}).Decode(&c)
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongo load counters")
	}
	c.Normalize()
	return &c, nil
}
func (m *Mongo) SaveCounters(ctx context.Context, c *domain.Counters) error {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	c.ID = domain.CountersID
	_, err := m.analytics.ReplaceOne(ctx, bson.M{"_id": domain.CountersID}, c, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "mongo save counters")
}
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
