package user

import (
	"context"

	"MeetChat/module/user/model"
	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDirectory struct {
	coll *mongo.Collection
}

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{coll: db.Collection(model.ProfileTableName)}
}

func (d *MongoDirectory) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := d.coll.FindOne(ctx, bson.M{model.ProfileFieldUserID: userID},
		options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("profile", "userId", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find profile")
	}
	return &p, nil
}

// Upsert writes a profile; used by seeding and tests.
func (d *MongoDirectory) Upsert(ctx context.Context, p model.Profile) error {
	_, err := d.coll.UpdateOne(ctx, bson.M{model.ProfileFieldUserID: p.UserID},
		bson.M{"$set": p}, options.Update().SetUpsert(true))
	return errors.Wrap(err, "upsert profile")
}
