package dbclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"mdjira/internal/domain"
	"mdjira/internal/etl"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoWriter stores one document per (id, partition_date).
// Nested changelog/fields stay documents rather than JSON text.
type mongoWriter struct {
	client *mongo.Client
	dbName string

	mu      sync.Mutex
	indexed map[string]bool // collections whose unique merge-key index exists
}

var _ etl.Pinger = (*mongoWriter)(nil)

func newMongoWriter(conn *domain.DestinationConnection, password string) (etl.Destination, error) {
	uri, dbName := buildMongoURI(conn, password)
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoWriter{client: client, dbName: dbName, indexed: make(map[string]bool)}, nil
}

// buildMongoURI returns the connection URI and the database to write into.
// Host may already be a full mongodb:// or mongodb+srv:// URI (Atlas), in which
// case <password> placeholders are filled in.
func buildMongoURI(conn *domain.DestinationConnection, password string) (string, string) {
	var uri string
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", conn.Host, port), Path: "/"}
		if conn.Username != "" {
			u.User = url.UserPassword(conn.Username, password)
		}
		if extras := extraParams(conn); len(extras) > 0 {
			q := url.Values{}
			for k, v := range extras {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
		}
		uri = u.String()
	}

	dbName := conn.Database
	if dbName == "" {
		if u, err := url.Parse(uri); err == nil {
			dbName = strings.Trim(u.Path, "/")
		}
	}
	if dbName == "" {
		dbName = "md_jira"
	}
	return uri, dbName
}

func (m *mongoWriter) Write(ctx context.Context, table string, schema *etl.Schema, records []etl.Record, mode etl.WriteMode) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.client.Database(m.dbName).Collection(table)
	if !m.indexed[table] && len(schema.PrimaryKey) > 0 {
		keys := bson.D{}
		for _, k := range schema.PrimaryKey {
			keys = append(keys, bson.E{Key: k, Value: 1})
		}
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)})
		if err != nil {
			return 0, fmt.Errorf("create merge key index: %w", err)
		}
		m.indexed[table] = true
	}

	models, err := writeModels(schema, records, mode)
	if err != nil {
		return 0, err
	}

	if mode != etl.WriteReplace {
		if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return 0, fmt.Errorf("bulk write: %w", err)
		}
		return len(models), nil
	}

	// Replace clears and refills the partitions in one transaction.
	// Transactions need a replica set or sharded cluster.
	sess, err := m.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := coll.DeleteMany(ctx, bson.M{"partition_date": bson.M{"$in": etl.PartitionsOf(records)}}); err != nil {
			return nil, fmt.Errorf("clear partitions: %w", err)
		}
		if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return nil, fmt.Errorf("bulk write: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace partitions: %w", err)
	}
	return len(models), nil
}

// writeModels builds one upsert per record for merge, plain inserts otherwise.
func writeModels(schema *etl.Schema, records []etl.Record, mode etl.WriteMode) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		doc, err := toDocument(schema, r)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key(), err)
		}
		if mode == etl.WriteMerge {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(mergeFilter(schema, doc)).
				SetReplacement(doc).
				SetUpsert(true))
		} else {
			models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
		}
	}
	return models, nil
}

// Ping verifies connectivity.
func (m *mongoWriter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// toDocument keeps the schema's columns, with timestamps as BSON dates.
func toDocument(schema *etl.Schema, r etl.Record) (bson.M, error) {
	doc := bson.M{}
	for _, f := range schema.Fields {
		v, ok := r.Data[f.Name]
		if !ok {
			continue
		}
		if f.Type == "timestamp" && v != nil {
			ts, err := toTime(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			v = ts.UTC()
		}
		doc[f.Name] = v
	}
	return doc, nil
}

func mergeFilter(schema *etl.Schema, doc bson.M) bson.D {
	filter := bson.D{}
	for _, k := range schema.PrimaryKey {
		filter = append(filter, bson.E{Key: k, Value: doc[k]})
	}
	return filter
}
