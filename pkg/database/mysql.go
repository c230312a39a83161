package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/media-booth-system/internal/errs"
	"github.com/media-booth-system/pkg/models"
)

type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto-migrate the schema
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&models.User{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.HistoryEntry{},
	)
}

// storeErr maps gorm errors to the domain taxonomy: missing records become
// NotFound, everything else is a retryable StoreUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, errs.ErrStoreUnavailable)
}

// User directory

func (db *MySQLDB) CreateUser(ctx context.Context, user *models.User) error {
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		return storeErr("create user", err)
	}
	return nil
}

func (db *MySQLDB) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, storeErr("find user", err)
	}
	return &user, nil
}

func (db *MySQLDB) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, storeErr("find user by email", err)
	}
	return &user, nil
}

// History store

func (db *MySQLDB) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if err := db.WithContext(ctx).Create(entry).Error; err != nil {
		return storeErr("append history", err)
	}
	return nil
}

func (db *MySQLDB) GetHistory(ctx context.Context, id uuid.UUID) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	if err := db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, storeErr("get history entry", err)
	}
	return &entry, nil
}

func (db *MySQLDB) ListHistory(ctx context.Context, userID *uuid.UUID, offset, limit int) ([]models.HistoryEntry, int64, error) {
	q := db.WithContext(ctx).Model(&models.HistoryEntry{})
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr("count history", err)
	}

	var entries []models.HistoryEntry
	if err := q.Order("played_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, storeErr("list history", err)
	}
	return entries, total, nil
}

// Playlist store

func (db *MySQLDB) CreatePlaylist(ctx context.Context, playlist *models.Playlist) error {
	if err := db.WithContext(ctx).Create(playlist).Error; err != nil {
		return storeErr("create playlist", err)
	}
	return nil
}

func (db *MySQLDB) GetPlaylist(ctx context.Context, id uuid.UUID) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := db.WithContext(ctx).First(&playlist, "id = ?", id).Error; err != nil {
		return nil, storeErr("get playlist", err)
	}
	return &playlist, nil
}

func (db *MySQLDB) AppendPlaylistItem(ctx context.Context, playlistID uuid.UUID, media models.MediaSnapshot) (*models.PlaylistItem, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.PlaylistItem{}).
		Where("playlist_id = ?", playlistID).
		Count(&count).Error; err != nil {
		return nil, storeErr("count playlist items", err)
	}

	item := &models.PlaylistItem{
		ID:         uuid.New(),
		PlaylistID: playlistID,
		Media:      media,
		Position:   int(count),
	}
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, storeErr("append playlist item", err)
	}
	return item, nil
}

// NextPlaylistItem returns the first item of the user's active playlist and
// cycles it to the back, so repeated turns walk the whole playlist.
func (db *MySQLDB) NextPlaylistItem(ctx context.Context, userID uuid.UUID) (models.MediaSnapshot, uuid.UUID, error) {
	user, err := db.FindUser(ctx, userID)
	if err != nil {
		return models.MediaSnapshot{}, uuid.Nil, err
	}
	if user.ActivePlaylistID == nil {
		return models.MediaSnapshot{}, uuid.Nil, fmt.Errorf("user has no active playlist: %w", errs.ErrNotFound)
	}
	playlistID := *user.ActivePlaylistID

	var media models.MediaSnapshot
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.PlaylistItem
		if err := tx.Where("playlist_id = ?", playlistID).
			Order("position ASC").
			First(&item).Error; err != nil {
			return err
		}

		var maxPos int
		row := tx.Model(&models.PlaylistItem{}).
			Where("playlist_id = ?", playlistID).
			Select("COALESCE(MAX(position), 0)").
			Row()
		if err := row.Scan(&maxPos); err != nil {
			return err
		}

		if err := tx.Model(&item).Update("position", maxPos+1).Error; err != nil {
			return err
		}

		media = item.Media
		return nil
	})
	if err != nil {
		return models.MediaSnapshot{}, uuid.Nil, storeErr("next playlist item", err)
	}
	return media, playlistID, nil
}
