// Package mongo is a core.SignalingStore on MongoDB. Watches use change
// streams, so the server must run as a replica set.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"

	"github.com/dkeye/videocall/internal/config"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

const (
	roomsCollName      = "rooms"
	candidatesCollName = "candidates"
	countersCollName   = "counters"

	roomIDField        = "_id"
	roomAnswerField    = "answer"
	roomCreatedAtField = "created_at"

	candRoomField = "room"
	candLogField  = "log"
	candSeqField  = "seq"
)

type roomDoc struct {
	ID        string                     `bson:"_id"`
	Offer     *domain.SessionDescription `bson:"offer,omitempty"`
	Answer    *domain.SessionDescription `bson:"answer,omitempty"`
	Creator   string                     `bson:"creator"`
	CreatedAt time.Time                  `bson:"created_at"`
}

func (d roomDoc) toDomain() domain.Room {
	return domain.Room{
		ID:        domain.RoomID(d.ID),
		Offer:     d.Offer,
		Answer:    d.Answer,
		Creator:   d.Creator,
		CreatedAt: d.CreatedAt,
	}
}

type candidateDoc struct {
	ID        string    `bson:"_id"`
	Room      string    `bson:"room"`
	Log       string    `bson:"log"`
	Seq       uint64    `bson:"seq"`
	Candidate string    `bson:"candidate"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d candidateDoc) toDomain() domain.CandidateRecord {
	return domain.CandidateRecord{
		ID:        d.ID,
		Room:      domain.RoomID(d.Room),
		Log:       domain.CandidateLog(d.Log),
		Seq:       d.Seq,
		Candidate: json.RawMessage(d.Candidate),
		CreatedAt: d.CreatedAt,
	}
}

type Store struct {
	client   *mongo.Client
	rooms    *mongo.Collection
	cands    *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

var _ core.SignalingStore = (*Store)(nil)

// Connect dials cfg.MongoURI and makes sure the indexes exist.
func Connect(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping", err)
	}
	s := NewStore(client, cfg.MongoDatabase)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info().Str("module", "store.mongo").Str("db", cfg.MongoDatabase).Msg("connected")
	return s, nil
}

func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		rooms:    db.Collection(roomsCollName),
		cands:    db.Collection(candidatesCollName),
		counters: db.Collection(countersCollName),
		now:      time.Now,
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.cands.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: candRoomField, Value: 1}, {Key: candLogField, Value: 1}, {Key: candSeqField, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}); err != nil {
		return unavailable("candidate indexes", err)
	}
	if _, err := s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: roomCreatedAtField, Value: 1}},
	}); err != nil {
		return unavailable("room indexes", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (s *Store) CreateRoom(ctx context.Context, offer domain.SessionDescription, creator string) (domain.RoomID, error) {
	o := offer
	doc := roomDoc{
		ID:        uuid.NewString(),
		Offer:     &o,
		Creator:   creator,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.rooms.InsertOne(ctx, doc); err != nil {
		return "", unavailable("insert room", err)
	}
	log.Info().Str("module", "store.mongo").Str("room", doc.ID).Str("creator", creator).Msg("room created")
	return domain.RoomID(doc.ID), nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var doc roomDoc
	err := s.rooms.FindOne(ctx, bson.D{{Key: roomIDField, Value: string(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, unavailable("find room", err)
	}
	room := doc.toDomain()
	return &room, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	cur, err := s.rooms.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: roomCreatedAtField, Value: 1}}))
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	var docs []roomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list rooms", err)
	}
	out := make([]domain.Room, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// SetAnswer is a conditional write: only a room without an answer matches.
func (s *Store) SetAnswer(ctx context.Context, id domain.RoomID, answer domain.SessionDescription) error {
	res, err := s.rooms.UpdateOne(ctx,
		bson.D{
			{Key: roomIDField, Value: string(id)},
			{Key: roomAnswerField, Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: roomAnswerField, Value: answer}}}},
	)
	if err != nil {
		return unavailable("set answer", err)
	}
	if res.MatchedCount == 1 {
		log.Info().Str("module", "store.mongo").Str("room", string(id)).Msg("answer set")
		return nil
	}
	n, err := s.rooms.CountDocuments(ctx, bson.D{{Key: roomIDField, Value: string(id)}})
	if err != nil {
		return unavailable("set answer", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return domain.ErrAlreadyAnswered
}

func counterID(id domain.RoomID, l domain.CandidateLog) string {
	return string(id) + "/" + string(l)
}

func (s *Store) nextSeq(ctx context.Context, id domain.RoomID, l domain.CandidateLog) (uint64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: counterID(id, l)}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, err
	}
	return uint64(out.Seq), nil
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.RoomID, l domain.CandidateLog, candidate json.RawMessage) error {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return err
	}
	seq, err := s.nextSeq(ctx, id, l)
	if err != nil {
		return unavailable("next seq", err)
	}
	doc := candidateDoc{
		ID:        fmt.Sprintf("%s/%s/%d", id, l, seq),
		Room:      string(id),
		Log:       string(l),
		Seq:       seq,
		Candidate: string(candidate),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.cands.InsertOne(ctx, doc); err != nil {
		return unavailable("insert candidate", err)
	}
	log.Debug().Str("module", "store.mongo").Str("room", string(id)).Str("log", string(l)).Uint64("seq", seq).Msg("candidate appended")
	return nil
}

func (s *Store) ListCandidates(ctx context.Context, id domain.RoomID, l domain.CandidateLog) ([]domain.CandidateRecord, error) {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return nil, err
	}
	cur, err := s.cands.Find(ctx,
		bson.D{{Key: candRoomField, Value: string(id)}, {Key: candLogField, Value: string(l)}},
		options.Find().SetSort(bson.D{{Key: candSeqField, Value: 1}}),
	)
	if err != nil {
		return nil, unavailable("list candidates", err)
	}
	var docs []candidateDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list candidates", err)
	}
	out := make([]domain.CandidateRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// DeleteRoom removes the room, both logs and their counters. Every step runs
// even when an earlier one fails.
func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	var err error
	if _, e := s.rooms.DeleteOne(ctx, bson.D{{Key: roomIDField, Value: string(id)}}); e != nil {
		err = multierr.Append(err, fmt.Errorf("delete room: %w", e))
	}
	if _, e := s.cands.DeleteMany(ctx, bson.D{{Key: candRoomField, Value: string(id)}}); e != nil {
		err = multierr.Append(err, fmt.Errorf("delete candidates: %w", e))
	}
	if _, e := s.counters.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{
		counterID(id, domain.CallerCandidates),
		counterID(id, domain.CalleeCandidates),
	}}}}}); e != nil {
		err = multierr.Append(err, fmt.Errorf("delete counters: %w", e))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	log.Info().Str("module", "store.mongo").Str("room", string(id)).Msg("room deleted")
	return nil
}
