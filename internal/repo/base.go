package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/google/uuid"
	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// base is the common Mongo CRUD surface every repository embeds, mirroring
// BaseRepository/QueryBuilder's find_by_id/find_all/create/update/count.
type base struct {
	coll *mongo.Collection
	log  *logging.Logger
}

// findQuery mirrors QueryBuilder.find_all's filter/order/limit/offset shape.
type findQuery struct {
	Filters   bson.M
	OrderBy   string
	OrderDesc bool
	Limit     int64
	Offset    int64
}

func (b base) findByID(ctx context.Context, id string, out any) error {
	return b.coll.FindOne(ctx, bson.M{"_id": id}).Decode(out)
}

func (b base) findAll(ctx context.Context, q findQuery, out any) error {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.OrderDesc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Offset > 0 {
		opts.SetSkip(q.Offset)
	}

	filter := q.Filters
	if filter == nil {
		filter = bson.M{}
	}

	cursor, err := b.coll.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

// create assigns a UUID to _id when absent and inserts doc as-is; doc must
// be a bson.M (or bson-marshalable map) so an id can be injected.
func (b base) create(ctx context.Context, doc bson.M) (string, error) {
	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		doc["_id"] = id
	}
	if _, ok := doc["created_at"]; !ok {
		doc["created_at"] = time.Now().UTC()
	}
	if _, err := b.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	return id, nil
}

func (b base) update(ctx context.Context, id string, fields bson.M) error {
	_, err := b.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

func (b base) count(ctx context.Context, filters bson.M) (int64, error) {
	if filters == nil {
		filters = bson.M{}
	}
	n, err := b.coll.CountDocuments(ctx, filters)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
