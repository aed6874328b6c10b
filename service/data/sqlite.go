package data

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteService struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// any pending migration.
func NewSQLite(path string) (IService, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteService{db: db}, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func MigrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// Not closing m: it would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	lgr.Logger.Info("migrate", slog.String("message", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (svc *sqliteService) SaveImage(ctx context.Context, rec model.ImageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lat, lon, processingMs sql.NullFloat64
	if rec.GPS.Valid {
		lat = sql.NullFloat64{Float64: rec.GPS.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: rec.GPS.Longitude, Valid: true}
	}
	objects := 0
	if rec.Detection != nil {
		objects = len(rec.Detection.Boxes)
		processingMs = sql.NullFloat64{Float64: float64(rec.Detection.ProcessingTime) / float64(time.Millisecond), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (id, filename, created, has_detection, record, latitude, longitude, objects_count, processing_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.Created.UnixNano(), rec.HasDetection(), string(payload),
		lat, lon, objects, processingMs)
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}

	if rec.HasDetection() {
		for _, b := range rec.Detection.Boxes {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO image_labels (image_id, label, confidence) VALUES (?, ?, ?)`,
				rec.ID, b.Label, b.Confidence)
			if err != nil {
				return fmt.Errorf("inserting image label: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (svc *sqliteService) RetrieveImage(ctx context.Context, id string) (model.ImageRecord, error) {
	var payload string
	err := svc.db.QueryRowContext(ctx, `SELECT record FROM images WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ImageRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ImageRecord{}, err
	}

	var rec model.ImageRecord
	return rec, json.Unmarshal([]byte(payload), &rec)
}

func (svc *sqliteService) RetrieveImages(ctx context.Context, filter model.ImageFilter) (model.ImagePage, error) {
	filter = normalizeFilter(filter)

	where := []string{"1 = 1"}
	args := []interface{}{}
	if filter.HasDetection != nil {
		where = append(where, "has_detection = ?")
		args = append(args, *filter.HasDetection)
	}
	if !filter.From.IsZero() {
		where = append(where, "created >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		where = append(where, "created <= ?")
		args = append(args, filter.To.UnixNano())
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := svc.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE `+clause, args...).Scan(&total); err != nil {
		return model.ImagePage{}, err
	}

	rows, err := svc.db.QueryContext(ctx,
		`SELECT record FROM images WHERE `+clause+` ORDER BY created DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, (filter.Page-1)*filter.Limit)...)
	if err != nil {
		return model.ImagePage{}, err
	}
	defer rows.Close()

	images, err := scanRecords(rows)
	if err != nil {
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

func (svc *sqliteService) UpdateImage(ctx context.Context, id string, tags []string, description string) (model.ImageRecord, error) {
	rec, err := svc.RetrieveImage(ctx, id)
	if err != nil {
		return model.ImageRecord{}, err
	}

	rec.Tags = tags
	rec.Description = description
	payload, err := json.Marshal(rec)
	if err != nil {
		return model.ImageRecord{}, err
	}

	_, err = svc.db.ExecContext(ctx, `UPDATE images SET record = ? WHERE id = ?`, string(payload), id)
	return rec, err
}

func (svc *sqliteService) DeleteImage(ctx context.Context, id string) (model.ImageRecord, error) {
	rec, err := svc.RetrieveImage(ctx, id)
	if err != nil {
		return model.ImageRecord{}, err
	}

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ImageRecord{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM image_labels WHERE image_id = ?`, id); err != nil {
		return model.ImageRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id); err != nil {
		return model.ImageRecord{}, err
	}

	return rec, tx.Commit()
}

func scanRecords(rows *sql.Rows) ([]model.ImageRecord, error) {
	images := []model.ImageRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec model.ImageRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		images = append(images, rec)
	}
	return images, rows.Err()
}

// RetrieveImagesNear narrows candidates with a bounding box on the indexed
// columns and keeps those within the haversine radius.
func (svc *sqliteService) RetrieveImagesNear(ctx context.Context, lat, lon, radiusKm float64) ([]model.ImageRecord, error) {
	if err := validateNear(lat, lon, radiusKm); err != nil {
		return nil, err
	}

	latDelta := radiusKm / earthRadiusKm * 180 / math.Pi
	where := []string{"latitude BETWEEN ? AND ?"}
	args := []interface{}{lat - latDelta, lat + latDelta}

	// no longitude bound near the poles or across the antimeridian
	if cos := math.Cos(lat * math.Pi / 180); cos > 0.01 {
		lonDelta := latDelta / cos
		if lon-lonDelta >= -180 && lon+lonDelta <= 180 {
			where = append(where, "longitude BETWEEN ? AND ?")
			args = append(args, lon-lonDelta, lon+lonDelta)
		}
	}

	rows, err := svc.db.QueryContext(ctx,
		`SELECT record FROM images WHERE `+strings.Join(where, " AND ")+` ORDER BY created DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return nearOf(candidates, lat, lon, radiusKm), nil
}

func createdClause(column string, f model.StatisticsFilter) (string, []interface{}) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if !f.From.IsZero() {
		where = append(where, column+" >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, column+" <= ?")
		args = append(args, f.To.UnixNano())
	}
	return strings.Join(where, " AND "), args
}

func (svc *sqliteService) RetrieveDetectionStatistics(ctx context.Context, filter model.StatisticsFilter) (model.DetectionStatistics, error) {
	stats := model.DetectionStatistics{}

	clause, args := createdClause("created", filter)
	err := svc.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(has_detection), 0), COALESCE(SUM(objects_count), 0),
		        COALESCE(AVG(objects_count), 0), COALESCE(AVG(processing_ms), 0)
		 FROM images WHERE `+clause, args...).
		Scan(&stats.TotalImages, &stats.ImagesWithDetection, &stats.TotalObjectsDetected,
			&stats.AvgObjectsPerImage, &stats.AvgProcessingMs)
	if err != nil {
		return stats, err
	}

	clause, args = createdClause("i.created", filter)
	rows, err := svc.db.QueryContext(ctx,
		`SELECT l.label, COUNT(*), AVG(l.confidence)
		 FROM image_labels l JOIN images i ON i.id = l.image_id
		 WHERE `+clause+` GROUP BY l.label`, args...)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var row model.LabelStatistics
		if err := rows.Scan(&row.Label, &row.Count, &row.AvgConfidence); err != nil {
			return stats, err
		}
		stats.ByLabel = append(stats.ByLabel, row)
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	return finishStatistics(stats, filter), nil
}

func (svc *sqliteService) RetrieveStoreStatistics(ctx context.Context) (model.StoreStatistics, error) {
	stats := model.StoreStatistics{Driver: "sqlite"}

	var pageCount, pageSize int64
	if err := svc.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return stats, err
	}
	if err := svc.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return stats, err
	}
	stats.StorageSize = pageCount * pageSize

	err := svc.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(record)), 0), COALESCE(AVG(LENGTH(record)), 0) FROM images`).
		Scan(&stats.Images, &stats.DataSize, &stats.AvgObjSize)
	if err != nil {
		return stats, err
	}

	err = svc.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index'`).Scan(&stats.Indexes)
	if err != nil {
		return stats, err
	}

	// dbstat is an optional compile-time table
	var indexSize int64
	err = svc.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pgsize), 0) FROM dbstat WHERE name IN (SELECT name FROM sqlite_master WHERE type = 'index')`).
		Scan(&indexSize)
	if err == nil {
		stats.IndexSize = indexSize
	}

	return stats, nil
}

func (svc *sqliteService) NewError(err interface{}) error {
	e := toErrorData(err)
	misc, _ := json.Marshal(e.Misc)

	_, dbErr := svc.db.Exec(
		`INSERT INTO errors (timestamp, processor, inner_error, message, stack_trace, misc) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Processor, e.Inner, e.Message, e.StackTrace, string(misc))
	return dbErr
}

func (svc *sqliteService) NewStats(kind string, stats interface{}) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	_, err = svc.db.Exec(`INSERT INTO stats (timestamp, kind, payload) VALUES (?, ?, ?)`,
		time.Now().Unix(), kind, string(payload))
	return err
}

func (svc *sqliteService) Close() error {
	return svc.db.Close()
}
