package songs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cantiolabs/cantio/backend/internal/lyrics"
)

const (
	// DefaultMaxSongsPerOwner caps the number of confirmed songs per owner.
	DefaultMaxSongsPerOwner = 10
	// DefaultPreviewLines is the number of timeline lines echoed back in the
	// upload receipt.
	DefaultPreviewLines = 4
	// DefaultSignedURLTTL bounds how long listing URLs stay fetchable.
	DefaultSignedURLTTL = 24 * time.Hour
)

const (
	opServiceNew       = "songs.service.new"
	opUpload           = "songs.upload"
	opConfirm          = "songs.confirm"
	opReject           = "songs.reject"
	opDelete           = "songs.delete"
	opList             = "songs.list"
	opUpdateSettings   = "songs.update_settings"
	opLatestUpdateTime = "songs.latest_update_time"
	opAttachVideo      = "songs.attach_video"
	opRemoveVideo      = "songs.remove_video"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingObjectStore = errors.New("object store is required")
	errMissingAcquirer    = errors.New("lyrics acquirer is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()
)

// ObjectStore is the blob storage collaborator. Delete is idempotent and a
// no-op for unknown references.
type ObjectStore interface {
	Put(ctx context.Context, key string, upload FileUpload) (string, error)
	Delete(ctx context.Context, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// Acquirer fetches and classifies lyrics for a track. Acquisition failure is
// data, not an error: transport problems classify as ABSENT.
type Acquirer interface {
	AcquireSynced(ctx context.Context, artist, title string) lyrics.Result
}

// IDProvider issues identifiers for new song rows.
type IDProvider interface {
	NewID() (string, error)
}

// Limits bundles the workflow's tunable ceilings.
type Limits struct {
	MaxSongsPerOwner int
	MaxAudioBytes    int64
	MaxVideoBytes    int64
	PreviewLines     int
	SignedURLTTL     time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxSongsPerOwner <= 0 {
		l.MaxSongsPerOwner = DefaultMaxSongsPerOwner
	}
	if l.MaxAudioBytes <= 0 {
		l.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if l.MaxVideoBytes <= 0 {
		l.MaxVideoBytes = DefaultMaxVideoBytes
	}
	if l.PreviewLines <= 0 {
		l.PreviewLines = DefaultPreviewLines
	}
	if l.SignedURLTTL <= 0 {
		l.SignedURLTTL = DefaultSignedURLTTL
	}
	return l
}

// ServiceConfig describes the dependencies of the upload workflow.
type ServiceConfig struct {
	Database   *gorm.DB
	Objects    ObjectStore
	Acquirer   Acquirer
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Limits     Limits
}

// Service orchestrates the two-phase upload workflow: capacity check, file
// validation and lyrics acquisition all run before any durable write, then
// the object is stored and a tentative record created for the caller to
// confirm or reject.
type Service struct {
	db             *gorm.DB
	objects        ObjectStore
	acquirer       Acquirer
	clock          func() time.Time
	idProvider     IDProvider
	logger         *zap.Logger
	limits         Limits
	audioValidator *FileValidator
	videoValidator *FileValidator
}

// NewService constructs the upload workflow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Objects == nil {
		return nil, newServiceError(opServiceNew, "missing_object_store", errMissingObjectStore)
	}
	if cfg.Acquirer == nil {
		return nil, newServiceError(opServiceNew, "missing_acquirer", errMissingAcquirer)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	limits := cfg.Limits.withDefaults()

	return &Service{
		db:             cfg.Database,
		objects:        cfg.Objects,
		acquirer:       cfg.Acquirer,
		clock:          clock,
		idProvider:     cfg.IDProvider,
		logger:         logger,
		limits:         limits,
		audioValidator: NewAudioValidator(limits.MaxAudioBytes),
		videoValidator: NewVideoValidator(limits.MaxVideoBytes),
	}, nil
}

// Upload runs the lyrics-gated upload pipeline. Expensive storage writes are
// deliberately last: an owner at capacity, an invalid file or a track without
// synced lyrics all fail before a single byte reaches the object store.
func (s *Service) Upload(ctx context.Context, ownerID string, upload FileUpload, title, artist string) (UploadReceipt, error) {
	if ownerID == "" || title == "" || artist == "" {
		return UploadReceipt{}, validationError("owner, title and artist are required")
	}

	confirmed, err := s.CountConfirmed(ctx, ownerID)
	if err != nil {
		return UploadReceipt{}, err
	}
	if confirmed >= int64(s.limits.MaxSongsPerOwner) {
		return UploadReceipt{}, fmt.Errorf("%w: owner holds %d songs", ErrCapacityExceeded, confirmed)
	}

	if err := s.audioValidator.Validate(upload); err != nil {
		return UploadReceipt{}, err
	}

	result := s.acquirer.AcquireSynced(ctx, artist, title)
	if !result.Synced() {
		s.logger.Info("upload refused, no synced lyrics",
			zap.String("owner_id", ownerID),
			zap.String("title", title),
			zap.String("artist", artist),
			zap.String("classification", string(result.Classification)))
		return UploadReceipt{}, fmt.Errorf("%w: %q by %q", ErrLyricsUnavailable, title, artist)
	}

	songID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpload, "id_generation_failed", err)
		return UploadReceipt{}, newServiceError(opUpload, "id_generation_failed", err)
	}

	format := FileExtension(upload.Filename)
	objectKey := fmt.Sprintf("%s/%d_%s.%s", ownerID, s.clock().UTC().UnixMilli(), songID, format)
	objectRef, err := s.objects.Put(ctx, objectKey, upload)
	if err != nil {
		s.logError(opUpload, "object_put_failed", err, zap.String("owner_id", ownerID))
		return UploadReceipt{}, newServiceError(opUpload, "object_put_failed", err)
	}

	song := Song{
		SongID:          songID,
		OwnerID:         ownerID,
		Title:           title,
		Artist:          artist,
		ObjectRef:       objectRef,
		ByteSize:        upload.Size,
		Format:          format,
		RawLyrics:       result.RawText,
		Classification:  string(result.Classification),
		FrequencyWeight: 3,
		Confirmed:       false,
		CreatedAt:       s.clock().UTC(),
	}
	if err := song.SetTimeline(result.Timeline); err != nil {
		s.logError(opUpload, "timeline_encode_failed", err, zap.String("song_id", songID))
		return UploadReceipt{}, newServiceError(opUpload, "timeline_encode_failed", err)
	}

	if err := s.db.WithContext(ctx).Create(&song).Error; err != nil {
		// The stored object is now an orphan. No compensating cleanup here;
		// an out-of-core sweep reconciles the bucket against the table.
		s.logError(opUpload, "record_create_failed", err,
			zap.String("owner_id", ownerID),
			zap.String("orphan_object_ref", objectRef))
		return UploadReceipt{}, newServiceError(opUpload, "record_create_failed", err)
	}

	s.logger.Info("song stored pending confirmation",
		zap.String("song_id", songID),
		zap.String("owner_id", ownerID),
		zap.Int("timeline_lines", len(result.Timeline)))

	return UploadReceipt{
		SongID:         songID,
		Title:          title,
		Artist:         artist,
		Classification: string(result.Classification),
		LyricsPreview:  lyrics.Preview(result.Timeline, s.limits.PreviewLines),
	}, nil
}

// Confirm finalizes a tentative upload, making it visible to listing and
// embedding. A pending row whose backing object has disappeared (interrupted
// reject) is treated as not found and the dangling record is cleared.
func (s *Service) Confirm(ctx context.Context, ownerID, songID string) (Song, error) {
	song, err := s.findOwned(ctx, opConfirm, ownerID, songID, false)
	if err != nil {
		return Song{}, err
	}

	if !song.Confirmed {
		exists, err := s.objects.Exists(ctx, song.ObjectRef)
		if err != nil {
			s.logError(opConfirm, "object_check_failed", err, zap.String("song_id", songID))
			return Song{}, newServiceError(opConfirm, "object_check_failed", err)
		}
		if !exists {
			s.logger.Warn("pending song references a missing object, clearing record",
				zap.String("song_id", songID), zap.String("object_ref", song.ObjectRef))
			_ = s.db.WithContext(ctx).Delete(&Song{}, "song_id = ?", songID).Error
			return Song{}, fmt.Errorf("%w: backing object missing", ErrNotFound)
		}
	}

	now := s.clock().UTC()
	song.Confirmed = true
	song.UpdatedAt = &now
	if err := s.db.WithContext(ctx).Save(&song).Error; err != nil {
		s.logError(opConfirm, "record_save_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(opConfirm, "record_save_failed", err)
	}

	s.logger.Info("song confirmed", zap.String("song_id", songID), zap.String("owner_id", ownerID))
	return song, nil
}

// Reject abandons a tentative upload. The backing object is deleted first so
// an interrupted rejection leaves at worst an orphaned object, never a
// dangling record pointing at live storage.
func (s *Service) Reject(ctx context.Context, ownerID, songID string) error {
	song, err := s.findOwned(ctx, opReject, ownerID, songID, false)
	if err != nil {
		return err
	}
	if song.Confirmed {
		return fmt.Errorf("%w: song already confirmed", ErrNotFound)
	}
	return s.removeSong(ctx, opReject, song)
}

// Delete removes a confirmed song and its backing object.
func (s *Service) Delete(ctx context.Context, ownerID, songID string) error {
	song, err := s.findOwned(ctx, opDelete, ownerID, songID, true)
	if err != nil {
		return err
	}
	return s.removeSong(ctx, opDelete, song)
}

func (s *Service) removeSong(ctx context.Context, operation string, song Song) error {
	if err := s.objects.Delete(ctx, song.ObjectRef); err != nil {
		// Best effort, not retried: the record still goes away so the asset
		// stops being observable.
		s.logger.Warn("object delete failed, abandoning orphan",
			zap.String("operation", operation),
			zap.String("song_id", song.SongID),
			zap.String("object_ref", song.ObjectRef),
			zap.Error(err))
	}
	if song.VideoRef != "" {
		if err := s.objects.Delete(ctx, song.VideoRef); err != nil {
			s.logger.Warn("video object delete failed, abandoning orphan",
				zap.String("song_id", song.SongID),
				zap.String("video_ref", song.VideoRef),
				zap.Error(err))
		}
	}
	if err := s.db.WithContext(ctx).Delete(&Song{}, "song_id = ?", song.SongID).Error; err != nil {
		s.logError(operation, "record_delete_failed", err, zap.String("song_id", song.SongID))
		return newServiceError(operation, "record_delete_failed", err)
	}
	s.logger.Info("song removed",
		zap.String("operation", operation), zap.String("song_id", song.SongID))
	return nil
}

// List returns the owner's confirmed songs with signed playback URLs.
func (s *Service) List(ctx context.Context, ownerID string) ([]AssetView, error) {
	var rows []Song
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND confirmed = ?", ownerID, true).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opList, "query_failed", err)
	}

	views := make([]AssetView, 0, len(rows))
	for _, row := range rows {
		audioURL, err := s.objects.SignedURL(ctx, row.ObjectRef, s.limits.SignedURLTTL)
		if err != nil {
			s.logError(opList, "sign_url_failed", err, zap.String("song_id", row.SongID))
			return nil, newServiceError(opList, "sign_url_failed", err)
		}
		videoURL := ""
		if row.VideoRef != "" {
			if videoURL, err = s.objects.SignedURL(ctx, row.VideoRef, s.limits.SignedURLTTL); err != nil {
				s.logError(opList, "sign_video_url_failed", err, zap.String("song_id", row.SongID))
				return nil, newServiceError(opList, "sign_video_url_failed", err)
			}
		}
		views = append(views, AssetView{
			SongID:          row.SongID,
			Title:           row.Title,
			Artist:          row.Artist,
			AudioURL:        audioURL,
			VideoURL:        videoURL,
			Format:          row.Format,
			ByteSize:        row.ByteSize,
			FrequencyWeight: row.FrequencyWeight,
			SyncOffsetMs:    row.SyncOffsetMs,
			Classification:  row.Classification,
			Timeline:        row.Timeline(),
			UpdatedAt:       row.LastTouched(),
		})
	}
	return views, nil
}

// UpdateSettings adjusts the playback weight and sync offset of a confirmed
// song in place.
func (s *Service) UpdateSettings(ctx context.Context, ownerID, songID string, frequencyWeight int, syncOffsetMs int64) (Song, error) {
	if frequencyWeight < 1 || frequencyWeight > 5 {
		return Song{}, validationError("frequency weight must be between 1 and 5, got %d", frequencyWeight)
	}

	song, err := s.findOwned(ctx, opUpdateSettings, ownerID, songID, true)
	if err != nil {
		return Song{}, err
	}

	now := s.clock().UTC()
	song.FrequencyWeight = frequencyWeight
	song.SyncOffsetMs = syncOffsetMs
	song.UpdatedAt = &now
	if err := s.db.WithContext(ctx).Save(&song).Error; err != nil {
		s.logError(opUpdateSettings, "record_save_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(opUpdateSettings, "record_save_failed", err)
	}

	s.logger.Info("song settings updated",
		zap.String("song_id", songID),
		zap.Int("frequency_weight", frequencyWeight),
		zap.Int64("sync_offset_ms", syncOffsetMs))
	return song, nil
}

// LatestUpdateTime reports the most recent change across the owner's
// confirmed songs, falling back to creation time for untouched rows. The
// second return value is false when the owner has no confirmed songs.
func (s *Service) LatestUpdateTime(ctx context.Context, ownerID string) (time.Time, bool, error) {
	var row Song
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND confirmed = ?", ownerID, true).
		Order("COALESCE(updated_at, created_at) DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		s.logError(opLatestUpdateTime, "query_failed", err, zap.String("owner_id", ownerID))
		return time.Time{}, false, newServiceError(opLatestUpdateTime, "query_failed", err)
	}
	return row.LastTouched(), true, nil
}

// CountConfirmed counts the owner's confirmed songs.
func (s *Service) CountConfirmed(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Song{}).
		Where("owner_id = ? AND confirmed = ?", ownerID, true).
		Count(&count).Error
	if err != nil {
		s.logError(opUpload, "count_failed", err, zap.String("owner_id", ownerID))
		return 0, newServiceError(opUpload, "count_failed", err)
	}
	return count, nil
}

func (s *Service) findOwned(ctx context.Context, operation, ownerID, songID string, requireConfirmed bool) (Song, error) {
	var song Song
	query := s.db.WithContext(ctx).Where("song_id = ? AND owner_id = ?", songID, ownerID)
	if requireConfirmed {
		query = query.Where("confirmed = ?", true)
	}
	err := query.Take(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Song{}, fmt.Errorf("%w: %s", ErrNotFound, songID)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(operation, "query_failed", err)
	}
	return song, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("songs service error", attrs...)
}
