package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// counterID counters 集合中历史序号文档的 _id
const counterID = "history"

// messageDoc 集合中的文档结构，_id 即记录 ID
type messageDoc struct {
	ID        int64  `bson:"_id"`
	SessionID string `bson:"session_id"`
	Role      string `bson:"role"`
	Content   string `bson:"content"`
	CreatedAt int64  `bson:"created_at"`
}

func newMessageDoc(rec HistoryRecord) messageDoc {
	return messageDoc{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Role:      rec.Role,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt.Unix(),
	}
}

func (d messageDoc) record() HistoryRecord {
	return HistoryRecord{
		ID:        d.ID,
		SessionID: d.SessionID,
		Role:      d.Role,
		Content:   d.Content,
		CreatedAt: time.Unix(d.CreatedAt, 0).UTC(),
	}
}

// MongoHistoryStore 基于 MongoDB 的历史存储
type MongoHistoryStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	counters *mongo.Collection
	logger   *zap.Logger
}

var _ HistoryStore = (*MongoHistoryStore)(nil)

// NewMongoHistoryStore 连接 MongoDB 并创建 session_id 索引
func NewMongoHistoryStore(ctx context.Context, uri, db, collection string, logger *zap.Logger) (*MongoHistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := client.Database(db)
	s := &MongoHistoryStore{
		client:   client,
		messages: database.Collection(collection),
		counters: database.Collection(collection + "_counters"),
		logger:   logger.With(zap.String("component", "history_store"), zap.String("backend", "mongo")),
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("idx_messages_session"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create mongo index: %w", err)
	}
	return s, nil
}

func (s *MongoHistoryStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: counterID}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func (s *MongoHistoryStore) Save(ctx context.Context, rec HistoryRecord) (HistoryRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return HistoryRecord{}, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return HistoryRecord{}, fmt.Errorf("allocate history id: %w", err)
	}
	rec.ID = id

	if _, err := s.messages.InsertOne(ctx, newMessageDoc(rec)); err != nil {
		return HistoryRecord{}, fmt.Errorf("save history: %w", err)
	}
	return rec, nil
}

func (s *MongoHistoryStore) List(ctx context.Context, sessionID string) ([]HistoryRecord, error) {
	cur, err := s.messages.Find(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]HistoryRecord, 0)
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		out = append(out, doc.record())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

func (s *MongoHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoHistoryStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
