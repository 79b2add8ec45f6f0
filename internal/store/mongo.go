package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

const (
	DeviceCollection       = "device_trials"
	NetworkCollection      = "network_trials"
	SubscriptionCollection = "subscriptions"

	// upserts racing on the same _id can fail with a duplicate key once
	mongoUpsertAttempts = 3
)

// MongoStore keeps each record kind in its own collection and relies on
// single-document update operators for atomicity.
type MongoStore struct {
	db            *mongo.Database
	devices       *mongo.Collection
	networks      *mongo.Collection
	subscriptions *mongo.Collection
	nowF          func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:            db,
		devices:       db.Collection(DeviceCollection),
		networks:      db.Collection(NetworkCollection),
		subscriptions: db.Collection(SubscriptionCollection),
		nowF:          time.Now,
	}
}

func (s *MongoStore) now() time.Time {
	return s.nowF().UTC()
}

// EnsureIndexes creates the recency indexes used by the admin listing and
// the linked-account index that serves GetUserCount.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	recency := mongo.IndexModel{Keys: bson.D{{Key: "updated_at", Value: -1}}}
	if _, err := s.devices.Indexes().CreateOne(ctx, recency); err != nil {
		return err
	}
	linked := mongo.IndexModel{Keys: bson.D{{Key: "linked_account_ids", Value: 1}}}
	if _, err := s.devices.Indexes().CreateOne(ctx, linked); err != nil {
		return err
	}
	_, err := s.networks.Indexes().CreateOne(ctx, recency)
	return err
}

func (s *MongoStore) GetDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error) {
	var rec models.DeviceTrialRecord
	if err := findOne(ctx, s.devices, deviceID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) EnsureDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error) {
	now := s.now()
	update := bson.M{"$setOnInsert": bson.M{
		"reports_generated": 0,
		"is_whitelisted":    false,
		"created_at":        now,
		"updated_at":        now,
	}}
	return s.upsertDevice(ctx, deviceID, update)
}

func (s *MongoStore) GetNetworkRecord(ctx context.Context, prefix string) (*models.NetworkTrialRecord, error) {
	var rec models.NetworkTrialRecord
	if err := findOne(ctx, s.networks, prefix, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) GetUserCount(ctx context.Context, userID string) (int, error) {
	field := "user_reports." + models.UsageKey(userID)
	// usage is only written together with the account link, so the indexed
	// linked_account_ids match selects every contributing device
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "linked_account_ids", Value: userID},
			{Key: field, Value: bson.D{{Key: "$gt", Value: 0}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$" + field}}},
		}}},
	}
	cursor, err := s.devices.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (s *MongoStore) GetSubscriptionStatus(ctx context.Context, firmID string) (*models.SubscriptionStatus, error) {
	var sub models.SubscriptionStatus
	if err := findOne(ctx, s.subscriptions, firmID, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) UpsertDeviceRecord(ctx context.Context, rec *models.DeviceTrialRecord) error {
	return replace(ctx, s.devices, rec.DeviceID, rec)
}

func (s *MongoStore) UpsertNetworkRecord(ctx context.Context, rec *models.NetworkTrialRecord) error {
	return replace(ctx, s.networks, rec.NetworkPrefix, rec)
}

func (s *MongoStore) UpsertSubscriptionStatus(ctx context.Context, sub *models.SubscriptionStatus) error {
	return replace(ctx, s.subscriptions, sub.FirmID, sub)
}

func (s *MongoStore) IncrementReports(ctx context.Context, deviceID, userID string) (*models.DeviceTrialRecord, error) {
	now := s.now()
	inc := bson.M{"reports_generated": 1}
	if userID != "" {
		inc["user_reports."+models.UsageKey(userID)] = 1
	}
	update := bson.M{
		"$inc":         inc,
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"is_whitelisted": false, "created_at": now},
	}
	if userID != "" {
		update["$addToSet"] = bson.M{"linked_account_ids": userID}
	}
	return s.upsertDevice(ctx, deviceID, update)
}

func (s *MongoStore) LinkAccountToDevice(ctx context.Context, deviceID, userID string) error {
	now := s.now()
	update := bson.M{
		"$addToSet":    bson.M{"linked_account_ids": userID},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"reports_generated": 0, "is_whitelisted": false, "created_at": now},
	}
	_, err := s.upsertDevice(ctx, deviceID, update)
	return err
}

func (s *MongoStore) SetFirmActivated(ctx context.Context, deviceID, firmID string) (bool, error) {
	if firmID == "" {
		return false, nil
	}
	filter := bson.M{
		"_id": deviceID,
		"$or": bson.A{
			bson.M{"firm_activated": bson.M{"$exists": false}},
			bson.M{"firm_activated": ""},
		},
	}
	res, err := s.devices.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"firm_activated": firmID, "updated_at": s.now()}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) SetDeviceNetwork(ctx context.Context, deviceID, prefix string) error {
	res, err := s.devices.UpdateOne(ctx, bson.M{"_id": deviceID}, bson.M{"$set": bson.M{"network_prefix": prefix}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) LinkNetwork(ctx context.Context, prefix string, link models.NetworkLink) error {
	now := s.now()
	add := bson.M{}
	if link.FirmID != "" {
		add["linked_firm_ids"] = link.FirmID
	}
	if link.DeviceID != "" {
		add["linked_device_ids"] = link.DeviceID
	}
	if link.UserID != "" {
		add["linked_user_ids"] = link.UserID
	}
	update := bson.M{
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"is_whitelisted": false, "created_at": now},
	}
	if len(add) > 0 {
		update["$addToSet"] = add
	}
	opts := options.Update().SetUpsert(true)
	return retryDuplicate(func() error {
		_, err := s.networks.UpdateOne(ctx, bson.M{"_id": prefix}, update, opts)
		return err
	})
}

func (s *MongoStore) SetWhitelist(ctx context.Context, kind models.RecordKind, id string, whitelisted bool) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_whitelisted": whitelisted, "updated_at": s.now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ResetDeviceCounter(ctx context.Context, deviceID string) error {
	update := bson.M{
		"$set":   bson.M{"reports_generated": 0, "updated_at": s.now()},
		"$unset": bson.M{"user_reports": ""},
	}
	res, err := s.devices.UpdateOne(ctx, bson.M{"_id": deviceID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RemoveRecord(ctx context.Context, kind models.RecordKind, id string) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListDeviceRecords(ctx context.Context, limit int) ([]models.DeviceTrialRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.devices.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.DeviceTrialRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListNetworkRecords(ctx context.Context) ([]models.NetworkTrialRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.networks.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.NetworkTrialRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) collection(kind models.RecordKind) (*mongo.Collection, error) {
	switch kind {
	case models.RecordKindDevice:
		return s.devices, nil
	case models.RecordKindNetwork:
		return s.networks, nil
	default:
		return nil, ErrInvalidKind
	}
}

func (s *MongoStore) upsertDevice(ctx context.Context, deviceID string, update bson.M) (*models.DeviceTrialRecord, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var rec models.DeviceTrialRecord
	err := retryDuplicate(func() error {
		return s.devices.FindOneAndUpdate(ctx, bson.M{"_id": deviceID}, update, opts).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func findOne(ctx context.Context, coll *mongo.Collection, id string, dst any) error {
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(dst)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func replace(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func retryDuplicate(op func() error) error {
	var err error
	for i := 0; i < mongoUpsertAttempts; i++ {
		err = op()
		if !mongo.IsDuplicateKeyError(err) {
			return err
		}
	}
	return err
}

var _ Store = (*MongoStore)(nil)
