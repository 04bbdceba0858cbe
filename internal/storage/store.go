// Package storage persists OAuth credentials and the download history
// using GORM. It is the account-store collaborator the token store
// delegates persistence to; the retrieval engine itself never touches
// the database.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// CredentialEntity is the database model for per-user OAuth material.
type CredentialEntity struct {
	UserID       string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       string `gorm:"type:text"` // JSON serialized scope list
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (CredentialEntity) TableName() string {
	return "credentials"
}

// AttachmentEntity is the database model for one downloaded attachment.
type AttachmentEntity struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	MessageID    string `gorm:"index"`
	PartID       string
	EmailFrom    string `gorm:"index"`
	Subject      string
	Filename     string `gorm:"index"`
	Filepath     string
	Filetype     string `gorm:"index"`
	Size         int64
	ContentHash  string `gorm:"index"`
	DateReceived time.Time
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

func (AttachmentEntity) TableName() string {
	return "attachments"
}

// AttachmentRecord is the domain view of a history row.
type AttachmentRecord struct {
	ID           string
	UserID       string
	MessageID    string
	PartID       string
	EmailFrom    string
	Subject      string
	Filename     string
	Filepath     string
	Filetype     string
	Size         int64
	ContentHash  string
	DateReceived time.Time
	CreatedAt    time.Time
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Search   string // matches filename, subject, or sender
	Filetype string
	Limit    int
	Offset   int
}

// Stats summarizes a user's downloaded attachments.
type Stats struct {
	TotalCount  int64
	TotalSize   int64
	CountByType map[string]int64
}

// Store is the GORM-backed implementation.
type Store struct {
	db *gorm.DB
}

// NewStore wires an existing GORM connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if err := db.AutoMigrate(&CredentialEntity{}, &AttachmentEntity{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens (or creates) the SQLite database at path and returns a
// migrated store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return NewStore(db)
}

// LoadCredential returns the stored credential for the user, or nil when
// none exists.
func (s *Store) LoadCredential(ctx context.Context, userID string) (*model.Credential, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	var entity CredentialEntity
	result := s.db.WithContext(ctx).First(&entity, "user_id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credential: %w", result.Error)
	}

	var scopes []string
	if entity.Scopes != "" {
		if err := json.Unmarshal([]byte(entity.Scopes), &scopes); err != nil {
			return nil, fmt.Errorf("failed to decode credential scopes: %w", err)
		}
	}

	return &model.Credential{
		AccessToken:  entity.AccessToken,
		RefreshToken: entity.RefreshToken,
		Expiry:       entity.Expiry,
		Scopes:       scopes,
	}, nil
}

// SaveCredential upserts the user's credential row.
func (s *Store) SaveCredential(ctx context.Context, userID string, cred *model.Credential) error {
	if userID == "" || cred == nil {
		return errors.New("user ID and credential are required")
	}

	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode credential scopes: %w", err)
	}

	entity := CredentialEntity{
		UserID:       userID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
		Scopes:       string(scopes),
	}

	result := s.db.WithContext(ctx).Save(&entity)
	if result.Error != nil {
		return fmt.Errorf("failed to save credential: %w", result.Error)
	}
	return nil
}

// DeleteCredential removes the user's credential row (Gmail disconnect).
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Delete(&CredentialEntity{}, "user_id = ?", userID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete credential: %w", result.Error)
	}
	return nil
}

// SaveAttachment records one downloaded attachment in the history.
func (s *Store) SaveAttachment(ctx context.Context, rec *AttachmentRecord) (string, error) {
	if rec == nil || rec.UserID == "" || rec.Filename == "" {
		return "", errors.New("attachment record requires user ID and filename")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	entity := AttachmentEntity{
		ID:           rec.ID,
		UserID:       rec.UserID,
		MessageID:    rec.MessageID,
		PartID:       rec.PartID,
		EmailFrom:    rec.EmailFrom,
		Subject:      rec.Subject,
		Filename:     rec.Filename,
		Filepath:     rec.Filepath,
		Filetype:     rec.Filetype,
		Size:         rec.Size,
		ContentHash:  rec.ContentHash,
		DateReceived: rec.DateReceived,
	}

	result := s.db.WithContext(ctx).Create(&entity)
	if result.Error != nil {
		return "", fmt.Errorf("failed to save attachment record: %w", result.Error)
	}
	return rec.ID, nil
}

// ListAttachments returns the user's history, newest first, filtered.
func (s *Store) ListAttachments(ctx context.Context, userID string, filter HistoryFilter) ([]AttachmentRecord, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	q := s.db.WithContext(ctx).Model(&AttachmentEntity{}).Where("user_id = ?", userID)

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		q = q.Where("filename LIKE ? OR subject LIKE ? OR email_from LIKE ?", like, like, like)
	}
	if filter.Filetype != "" {
		q = q.Where("filetype = ?", filter.Filetype)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var entities []AttachmentEntity
	if err := q.Order("created_at DESC").Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	records := make([]AttachmentRecord, 0, len(entities))
	for i := range entities {
		records = append(records, entityToRecord(&entities[i]))
	}
	return records, nil
}

// DeleteAttachment removes one history row owned by the user.
func (s *Store) DeleteAttachment(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Delete(&AttachmentEntity{}, "id = ? AND user_id = ?", id, userID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete attachment record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("attachment %s not found", id)
	}
	return nil
}

// UserStats aggregates the user's download history.
func (s *Store) UserStats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	stats := &Stats{CountByType: make(map[string]int64)}

	row := s.db.WithContext(ctx).Model(&AttachmentEntity{}).
		Where("user_id = ?", userID).
		Select("COUNT(*) AS cnt, COALESCE(SUM(size), 0) AS total")
	var agg struct {
		Cnt   int64
		Total int64
	}
	if err := row.Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	stats.TotalCount = agg.Cnt
	stats.TotalSize = agg.Total

	var byType []struct {
		Filetype string
		Cnt      int64
	}
	err := s.db.WithContext(ctx).Model(&AttachmentEntity{}).
		Where("user_id = ?", userID).
		Select("filetype, COUNT(*) AS cnt").
		Group("filetype").
		Scan(&byType).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group stats by type: %w", err)
	}
	for _, t := range byType {
		stats.CountByType[t.Filetype] = t.Cnt
	}

	return stats, nil
}

func entityToRecord(e *AttachmentEntity) AttachmentRecord {
	return AttachmentRecord{
		ID:           e.ID,
		UserID:       e.UserID,
		MessageID:    e.MessageID,
		PartID:       e.PartID,
		EmailFrom:    e.EmailFrom,
		Subject:      e.Subject,
		Filename:     e.Filename,
		Filepath:     e.Filepath,
		Filetype:     e.Filetype,
		Size:         e.Size,
		ContentHash:  e.ContentHash,
		DateReceived: e.DateReceived,
		CreatedAt:    e.CreatedAt,
	}
}
