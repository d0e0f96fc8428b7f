package source

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ── MongoDB Document Source ────────────────────────────────
// Streams raw harvested documents out of a MongoDB collection. Teams
// that mirror API snapshots into Mongo can flatten straight from the
// mirror instead of re-exporting JSONL. Documents are normalized to
// plain map[string]any / []any so the flattener sees the same shapes
// the JSON decoder produces; the Mongo-internal _id is dropped.

type mongoSource struct{}

func init() { Register(&mongoSource{}) }

func (s *mongoSource) Spec() Spec {
	return Spec{
		Type:  "mongodb",
		Label: "MongoDB Collection",
		ConfigFields: []ConfigField{
			{Key: "uri", Label: "Connection URI", Required: true, Help: "mongodb:// or mongodb+srv:// connection string"},
			{Key: "database", Label: "Database", Required: true},
			{Key: "collection", Label: "Collection", Required: true},
			{Key: "entity", Label: "Entity Type", Required: true, Help: "Entity type of every document in the collection"},
			{Key: "filter", Label: "Filter", Help: "Optional BSON filter as Extended JSON"},
		},
	}
}

func (s *mongoSource) Read(ctx context.Context, cfg Config) (<-chan Record, <-chan error) {
	out := make(chan Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		uri, _ := cfg["uri"].(string)
		dbName, _ := cfg["database"].(string)
		collName, _ := cfg["collection"].(string)
		entity, _ := cfg["entity"].(string)
		if uri == "" || dbName == "" || collName == "" || entity == "" {
			errCh <- fmt.Errorf("uri, database, collection and entity are required")
			return
		}

		clientOpts := options.Client().ApplyURI(uri)
		client, err := mongo.Connect(clientOpts)
		if err != nil {
			errCh <- fmt.Errorf("connect mongo: %w", err)
			return
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(dctx)
		}()

		filter := bson.M{}
		if raw, _ := cfg["filter"].(string); raw != "" && raw != "{}" {
			var doc bson.D
			if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
				errCh <- fmt.Errorf("parse filter: %w", err)
				return
			}
			for _, elem := range doc {
				filter[elem.Key] = elem.Value
			}
		}

		coll := client.Database(dbName).Collection(collName)
		cursor, err := coll.Find(ctx, filter, options.Find().SetBatchSize(500))
		if err != nil {
			errCh <- fmt.Errorf("find: %w", err)
			return
		}
		defer cursor.Close(ctx)

		count := 0
		for cursor.Next(ctx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				errCh <- fmt.Errorf("decode document: %w", err)
				return
			}
			data := normalizeValue(map[string]any(doc)).(map[string]any)
			delete(data, "_id")
			select {
			case out <- Record{Entity: entity, Data: data}:
			case <-ctx.Done():
				return
			}
			count++
		}
		if err := cursor.Err(); err != nil {
			errCh <- fmt.Errorf("cursor: %w", err)
			return
		}
		log.Printf("[MONGO] Streamed %d documents from %s.%s", count, dbName, collName)
	}()

	return out, errCh
}

// normalizeValue converts BSON container and scalar types to the
// shapes encoding/json produces, so coercion behaves identically for
// every source.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeValue(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeValue(val)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, elem := range t {
			m[elem.Key] = normalizeValue(elem.Value)
		}
		return m
	case bson.A:
		a := make([]any, len(t))
		for i, val := range t {
			a[i] = normalizeValue(val)
		}
		return a
	case []any:
		a := make([]any, len(t))
		for i, val := range t {
			a[i] = normalizeValue(val)
		}
		return a
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case int32:
		return int64(t)
	default:
		return v
	}
}
