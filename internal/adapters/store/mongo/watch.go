package mongo

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
}

// WatchCandidates streams inserts into one log. The stream ends when the
// room's candidates are deleted.
func (s *Store) WatchCandidates(
	ctx context.Context,
	id domain.RoomID,
	l domain.CandidateLog,
	onAdded func(domain.CandidateRecord),
) (core.Subscription, error) {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "operationType", Value: "insert"},
				{Key: "fullDocument." + candRoomField, Value: string(id)},
				{Key: "fullDocument." + candLogField, Value: string(l)},
			},
			bson.D{
				{Key: "operationType", Value: "delete"},
				{Key: "documentKey._id", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(string(id)+"/")}}},
			},
		}}}}},
	}
	f := core.NewFeed(func(r domain.CandidateRecord) string { return r.ID }, onAdded)
	err := s.stream(ctx, s.cands, pipeline, options.ChangeStream(), f, func(ev changeEvent) bool {
		if ev.OperationType == "delete" {
			return false
		}
		var doc candidateDoc
		if err := bson.Unmarshal(ev.FullDocument, &doc); err != nil {
			log.Warn().Err(err).Str("module", "store.mongo").Msg("skipping undecodable candidate")
			return true
		}
		f.Push(doc.toDomain())
		return true
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// WatchRoom streams snapshots of the room after each update and ends on delete.
func (s *Store) WatchRoom(ctx context.Context, id domain.RoomID, onChange func(domain.Room)) (core.Subscription, error) {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: string(id)},
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"update", "replace", "delete"}}}},
		}}},
	}
	f := core.NewFeed(nil, onChange)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	err := s.stream(ctx, s.rooms, pipeline, opts, f, func(ev changeEvent) bool {
		if ev.OperationType == "delete" || len(ev.FullDocument) == 0 {
			return false
		}
		var doc roomDoc
		if err := bson.Unmarshal(ev.FullDocument, &doc); err != nil {
			log.Warn().Err(err).Str("module", "store.mongo").Msg("skipping undecodable room")
			return true
		}
		f.Push(doc.toDomain())
		return true
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

type feed interface {
	Cancel()
	OnCancel(func())
}

// stream opens a change stream that outlives ctx and pumps it into handle
// until handle returns false, the stream fails or the feed is cancelled.
func (s *Store) stream(
	ctx context.Context,
	coll *mongo.Collection,
	pipeline mongo.Pipeline,
	opts *options.ChangeStreamOptions,
	f feed,
	handle func(changeEvent) bool,
) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	cs, err := coll.Watch(ctx, pipeline, opts)
	if err != nil {
		cancel()
		f.Cancel()
		return unavailable("watch "+coll.Name(), err)
	}
	f.OnCancel(cancel)

	go func() {
		defer func() {
			_ = cs.Close(context.Background())
			f.Cancel()
		}()
		for cs.Next(streamCtx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				log.Warn().Err(err).Str("module", "store.mongo").Msg("change event decode")
				continue
			}
			if !handle(ev) {
				return
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Error().Err(err).Str("module", "store.mongo").Str("coll", coll.Name()).Msg("change stream failed")
		}
	}()
	return nil
}
