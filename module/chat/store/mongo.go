package store

import (
	"context"
	"time"

	"MeetChat/data/database/mgo/mongoutil"
	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores rooms, participations and messages in three collections.
type Mongo struct {
	RoomColl  *mongo.Collection
	PartColl  *mongo.Collection
	MsgColl   *mongo.Collection
	closeFunc func(ctx context.Context) error
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		RoomColl: db.Collection(model.RoomTableName),
		PartColl: db.Collection(model.ParticipationTableName),
		MsgColl:  db.Collection(model.MessageTableName),
	}
}

func (s *Mongo) Stores(closeFunc func(ctx context.Context) error) Stores {
	return Stores{Rooms: s, Messages: s, Close: closeFunc}
}

// EnsureIndexes creates the unique and ordering indexes the queries rely on.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	if _, err := s.RoomColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: model.RoomFieldRoomID, Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "room index")
	}
	if _, err := s.PartColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: model.ParticipationFieldRoomID, Value: 1}, {Key: model.ParticipationFieldUserID, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: model.ParticipationFieldUserID, Value: 1}}},
	}); err != nil {
		return errors.Wrap(err, "participation index")
	}
	if _, err := s.MsgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: model.MessageFieldMessageID, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: model.MessageFieldRoomID, Value: 1}, {Key: model.MessageFieldSequenceKey, Value: -1}}},
	}); err != nil {
		return errors.Wrap(err, "message index")
	}
	return nil
}

func (s *Mongo) CreateRoom(ctx context.Context, room *model.Room) error {
	if _, err := s.RoomColl.InsertOne(ctx, room); err != nil {
		if mongoutil.IsDuplicateKey(err) {
			return errs.ErrValidation.WrapMsg("room exists", "roomId", room.RoomID)
		}
		return errors.Wrap(err, "insert room")
	}
	docs := make([]any, 0, len(room.ParticipantIDs))
	for _, uid := range room.ParticipantIDs {
		docs = append(docs, model.Participation{RoomID: room.RoomID, UserID: uid, JoinedAt: room.CreatedAt})
	}
	if _, err := s.PartColl.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil && !mongoutil.IsDuplicateKey(err) {
		return errors.Wrap(err, "insert participations")
	}
	return nil
}

func (s *Mongo) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	var r model.Room
	err := s.RoomColl.FindOne(ctx, bson.M{model.RoomFieldRoomID: roomID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find room")
	}
	return &r, nil
}

func (s *Mongo) ListRooms(ctx context.Context, userID string) ([]model.Room, error) {
	cur, err := s.RoomColl.Find(ctx,
		bson.M{model.RoomFieldParticipants: userID},
		options.Find().SetSort(bson.D{{Key: model.RoomFieldLastMessageAt, Value: -1}, {Key: model.RoomFieldRoomID, Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find rooms")
	}
	var out []model.Room
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}
	return out, nil
}

func (s *Mongo) CountRooms(ctx context.Context, userID string) (int64, error) {
	n, err := s.PartColl.CountDocuments(ctx, bson.M{model.ParticipationFieldUserID: userID})
	return n, errors.Wrap(err, "count rooms")
}

func (s *Mongo) TouchLastMessage(ctx context.Context, roomID string, at time.Time, preview string) error {
	res, err := s.RoomColl.UpdateOne(ctx,
		bson.M{model.RoomFieldRoomID: roomID},
		bson.M{"$max": bson.M{model.RoomFieldLastMessageAt: at.UTC()}},
	)
	if err != nil {
		return errors.Wrap(err, "touch room")
	}
	if res.MatchedCount == 0 {
		return errs.ErrRoomNotFound.WrapMsg("", "roomId", roomID)
	}
	// preview follows the newest message only
	_, err = s.RoomColl.UpdateOne(ctx,
		bson.M{model.RoomFieldRoomID: roomID, model.RoomFieldLastMessageAt: at.UTC()},
		bson.M{"$set": bson.M{model.RoomFieldLastPreview: preview}},
	)
	return errors.Wrap(err, "set preview")
}

func (s *Mongo) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	res, err := s.PartColl.UpdateOne(ctx,
		bson.M{model.ParticipationFieldRoomID: roomID, model.ParticipationFieldUserID: userID},
		bson.M{"$max": bson.M{model.ParticipationFieldLastReadAt: at.UTC()}},
	)
	if err != nil {
		return false, errors.Wrap(err, "mark room read")
	}
	return res.MatchedCount > 0, nil
}

func (s *Mongo) Participation(ctx context.Context, roomID, userID string) (*model.Participation, error) {
	var p model.Participation
	err := s.PartColl.FindOne(ctx, bson.M{model.ParticipationFieldRoomID: roomID, model.ParticipationFieldUserID: userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("participation", "roomId", roomID, "userId", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find participation")
	}
	return &p, nil
}

func (s *Mongo) Append(ctx context.Context, m *model.Message) error {
	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		if mongoutil.IsDuplicateKey(err) {
			return errs.ErrDuplicateMessage.WrapMsg("", "messageId", m.MessageID)
		}
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (s *Mongo) Recent(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: model.MessageFieldSequenceKey, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.MsgColl.Find(ctx, bson.M{model.MessageFieldRoomID: roomID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	reverse(out)
	return out, nil
}

func (s *Mongo) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := s.MsgColl.CountDocuments(ctx, bson.M{model.MessageFieldRoomID: roomID})
	return n, errors.Wrap(err, "count messages")
}

func (s *Mongo) CountUnread(ctx context.Context, roomID, userID string, since time.Time) (int64, error) {
	n, err := s.MsgColl.CountDocuments(ctx, bson.M{
		model.MessageFieldRoomID:    roomID,
		model.MessageFieldSenderID:  bson.M{"$ne": userID},
		model.MessageFieldTimestamp: bson.M{"$gt": since.UnixMilli()},
	})
	return n, errors.Wrap(err, "count unread")
}

func (s *Mongo) MarkMessageRead(ctx context.Context, roomID, messageID, userID string) error {
	_, err := s.MsgColl.UpdateOne(ctx,
		bson.M{model.MessageFieldRoomID: roomID, model.MessageFieldMessageID: messageID},
		bson.M{"$addToSet": bson.M{model.MessageFieldReadBy: userID}},
	)
	return errors.Wrap(err, "mark message read")
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
