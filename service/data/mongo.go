package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/khaledhikmat/vs-live/model"
)

const (
	mongoDatabase     = "surveillance"
	mongoConnTimeout  = 10 * time.Second
	mongoWriteTimeout = 5 * time.Second
)

type mongoService struct {
	client *mongo.Client
	images *mongo.Collection
	errors *mongo.Collection
	stats  *mongo.Collection
}

// NewMongo connects to uri and uses the surveillance database.
func NewMongo(ctx context.Context, uri string) (IService, error) {
	cctx, cancel := context.WithTimeout(ctx, mongoConnTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(mongoDatabase)
	svc := &mongoService{
		client: client,
		images: db.Collection("images"),
		errors: db.Collection("errors"),
		stats:  db.Collection("stats"),
	}

	_, err = svc.images.Indexes().CreateMany(cctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created", Value: -1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return svc, nil
}

// geoPoint is a GeoJSON point, longitude first.
type geoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

// mongoImage adds the indexed location to the stored record.
type mongoImage struct {
	model.ImageRecord `bson:",inline"`
	Location          *geoPoint `bson:"location,omitempty"`
}

func (svc *mongoService) SaveImage(ctx context.Context, rec model.ImageRecord) error {
	doc := mongoImage{ImageRecord: rec}
	if rec.GPS.Valid {
		doc.Location = &geoPoint{Type: "Point", Coordinates: []float64{rec.GPS.Longitude, rec.GPS.Latitude}}
	}

	_, err := svc.images.InsertOne(ctx, doc)
	return err
}

func (svc *mongoService) RetrieveImage(ctx context.Context, id string) (model.ImageRecord, error) {
	var rec model.ImageRecord
	err := svc.images.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, ErrNotFound
	}
	return rec, err
}

func mongoFilter(f model.ImageFilter) bson.M {
	q := bson.M{}
	if f.HasDetection != nil {
		if *f.HasDetection {
			q["detection.boxes.0"] = bson.M{"$exists": true}
		} else {
			q["detection.boxes.0"] = bson.M{"$exists": false}
		}
	}

	created := bson.M{}
	if !f.From.IsZero() {
		created["$gte"] = f.From
	}
	if !f.To.IsZero() {
		created["$lte"] = f.To
	}
	if len(created) > 0 {
		q["created"] = created
	}
	return q
}

func (svc *mongoService) RetrieveImages(ctx context.Context, filter model.ImageFilter) (model.ImagePage, error) {
	filter = normalizeFilter(filter)
	q := mongoFilter(filter)

	total, err := svc.images.CountDocuments(ctx, q)
	if err != nil {
		return model.ImagePage{}, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: -1}}).
		SetSkip(int64((filter.Page - 1) * filter.Limit)).
		SetLimit(int64(filter.Limit))

	cur, err := svc.images.Find(ctx, q, opts)
	if err != nil {
		return model.ImagePage{}, err
	}
	defer cur.Close(ctx)

	images := []model.ImageRecord{}
	if err := cur.All(ctx, &images); err != nil {
		return model.ImagePage{}, err
	}

	return model.ImagePage{
		Images: images,
		Total:  total,
		Page:   filter.Page,
		Limit:  filter.Limit,
		Pages:  pages(total, filter.Limit),
	}, nil
}

func (svc *mongoService) UpdateImage(ctx context.Context, id string, tags []string, description string) (model.ImageRecord, error) {
	var rec model.ImageRecord
	err := svc.images.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"tags": tags, "description": description}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (svc *mongoService) DeleteImage(ctx context.Context, id string) (model.ImageRecord, error) {
	var rec model.ImageRecord
	err := svc.images.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (svc *mongoService) RetrieveImagesNear(ctx context.Context, lat, lon, radiusKm float64) ([]model.ImageRecord, error) {
	if err := validateNear(lat, lon, radiusKm); err != nil {
		return nil, err
	}

	q := bson.M{"location": bson.M{"$near": bson.M{
		"$geometry":    bson.M{"type": "Point", "coordinates": []float64{lon, lat}},
		"$maxDistance": radiusKm * 1000,
	}}}

	cur, err := svc.images.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	images := []model.ImageRecord{}
	if err := cur.All(ctx, &images); err != nil {
		return nil, err
	}
	return images, nil
}

func statisticsMatch(f model.StatisticsFilter) bson.D {
	created := bson.M{}
	if !f.From.IsZero() {
		created["$gte"] = f.From
	}
	if !f.To.IsZero() {
		created["$lte"] = f.To
	}
	if len(created) == 0 {
		return nil
	}
	return bson.D{{Key: "$match", Value: bson.M{"created": created}}}
}

func (svc *mongoService) RetrieveDetectionStatistics(ctx context.Context, filter model.StatisticsFilter) (model.DetectionStatistics, error) {
	stats := model.DetectionStatistics{}

	general := mongo.Pipeline{}
	byLabel := mongo.Pipeline{}
	if match := statisticsMatch(filter); match != nil {
		general = append(general, match)
		byLabel = append(byLabel, match)
	}

	general = append(general,
		bson.D{{Key: "$project", Value: bson.M{
			"objects":    bson.M{"$size": bson.M{"$ifNull": bson.A{"$detection.boxes", bson.A{}}}},
			"processing": "$detection.processingTime",
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.M{"$sum": 1}},
			{Key: "withDetection", Value: bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$objects", 0}}, 1, 0}}}},
			{Key: "objects", Value: bson.M{"$sum": "$objects"}},
			{Key: "avgObjects", Value: bson.M{"$avg": "$objects"}},
			{Key: "avgProcessing", Value: bson.M{"$avg": "$processing"}},
		}}},
	)

	cur, err := svc.images.Aggregate(ctx, general)
	if err != nil {
		return stats, err
	}
	var rows []struct {
		Total         int64    `bson:"total"`
		WithDetection int64    `bson:"withDetection"`
		Objects       int64    `bson:"objects"`
		AvgObjects    float64  `bson:"avgObjects"`
		AvgProcessing *float64 `bson:"avgProcessing"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return stats, err
	}
	if len(rows) > 0 {
		stats.TotalImages = rows[0].Total
		stats.ImagesWithDetection = rows[0].WithDetection
		stats.TotalObjectsDetected = rows[0].Objects
		stats.AvgObjectsPerImage = rows[0].AvgObjects
		if rows[0].AvgProcessing != nil {
			// durations are stored as nanoseconds
			stats.AvgProcessingMs = *rows[0].AvgProcessing / float64(time.Millisecond)
		}
	}

	byLabel = append(byLabel,
		bson.D{{Key: "$unwind", Value: "$detection.boxes"}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$detection.boxes.label"},
			{Key: "count", Value: bson.M{"$sum": 1}},
			{Key: "avgConfidence", Value: bson.M{"$avg": "$detection.boxes.confidence"}},
		}}},
	)

	cur, err = svc.images.Aggregate(ctx, byLabel)
	if err != nil {
		return stats, err
	}
	var labels []struct {
		Label         string  `bson:"_id"`
		Count         int64   `bson:"count"`
		AvgConfidence float64 `bson:"avgConfidence"`
	}
	if err := cur.All(ctx, &labels); err != nil {
		return stats, err
	}
	for _, l := range labels {
		stats.ByLabel = append(stats.ByLabel, model.LabelStatistics{
			Label:         l.Label,
			Count:         l.Count,
			AvgConfidence: l.AvgConfidence,
		})
	}

	return finishStatistics(stats, filter), nil
}

func (svc *mongoService) RetrieveStoreStatistics(ctx context.Context) (model.StoreStatistics, error) {
	stats := model.StoreStatistics{Driver: "mongo"}

	var db struct {
		DataSize    float64 `bson:"dataSize"`
		StorageSize float64 `bson:"storageSize"`
		Indexes     float64 `bson:"indexes"`
		IndexSize   float64 `bson:"indexSize"`
	}
	err := svc.images.Database().RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&db)
	if err != nil {
		return stats, err
	}

	var coll struct {
		Count      float64 `bson:"count"`
		AvgObjSize float64 `bson:"avgObjSize"`
	}
	err = svc.images.Database().RunCommand(ctx, bson.D{{Key: "collStats", Value: svc.images.Name()}}).Decode(&coll)
	if err != nil {
		return stats, err
	}

	stats.Images = int64(coll.Count)
	stats.AvgObjSize = coll.AvgObjSize
	stats.DataSize = int64(db.DataSize)
	stats.StorageSize = int64(db.StorageSize)
	stats.Indexes = int64(db.Indexes)
	stats.IndexSize = int64(db.IndexSize)
	return stats, nil
}

func (svc *mongoService) NewError(err interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoWriteTimeout)
	defer cancel()

	_, dbErr := svc.errors.InsertOne(ctx, toErrorData(err))
	return dbErr
}

func (svc *mongoService) NewStats(kind string, stats interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoWriteTimeout)
	defer cancel()

	_, err := svc.stats.InsertOne(ctx, statsData{
		Timestamp: time.Now().Unix(),
		Kind:      kind,
		Stats:     stats,
	})
	return err
}

func (svc *mongoService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoWriteTimeout)
	defer cancel()
	return svc.client.Disconnect(ctx)
}
