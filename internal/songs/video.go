package songs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AttachVideo stores a background video for a confirmed song. An existing
// video is deleted best-effort before the new object is written; a stale
// object left behind by a failed delete is an orphan, not a correctness
// problem, because the record only ever references the new object.
func (s *Service) AttachVideo(ctx context.Context, ownerID, songID string, upload FileUpload) (Song, error) {
	if err := s.videoValidator.Validate(upload); err != nil {
		return Song{}, err
	}

	song, err := s.findOwned(ctx, opAttachVideo, ownerID, songID, true)
	if err != nil {
		return Song{}, err
	}

	if song.VideoRef != "" {
		if err := s.objects.Delete(ctx, song.VideoRef); err != nil {
			s.logger.Warn("previous video delete failed, abandoning orphan",
				zap.String("song_id", songID),
				zap.String("video_ref", song.VideoRef),
				zap.Error(err))
		}
	}

	videoID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAttachVideo, "id_generation_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(opAttachVideo, "id_generation_failed", err)
	}

	format := FileExtension(upload.Filename)
	objectKey := fmt.Sprintf("%s/video/%d_%s.%s", ownerID, s.clock().UTC().UnixMilli(), videoID, format)
	videoRef, err := s.objects.Put(ctx, objectKey, upload)
	if err != nil {
		s.logError(opAttachVideo, "object_put_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(opAttachVideo, "object_put_failed", err)
	}

	now := s.clock().UTC()
	song.VideoRef = videoRef
	song.VideoByteSize = upload.Size
	song.VideoFormat = format
	song.UpdatedAt = &now
	if err := s.db.WithContext(ctx).Save(&song).Error; err != nil {
		s.logError(opAttachVideo, "record_save_failed", err,
			zap.String("song_id", songID),
			zap.String("orphan_object_ref", videoRef))
		return Song{}, newServiceError(opAttachVideo, "record_save_failed", err)
	}

	s.logger.Info("video attached", zap.String("song_id", songID), zap.Int64("bytes", upload.Size))
	return song, nil
}

// RemoveVideo deletes the background video of a confirmed song.
func (s *Service) RemoveVideo(ctx context.Context, ownerID, songID string) (Song, error) {
	song, err := s.findOwned(ctx, opRemoveVideo, ownerID, songID, true)
	if err != nil {
		return Song{}, err
	}
	if song.VideoRef == "" {
		return Song{}, fmt.Errorf("%w: song has no video", ErrNotFound)
	}

	if err := s.objects.Delete(ctx, song.VideoRef); err != nil {
		s.logger.Warn("video object delete failed, abandoning orphan",
			zap.String("song_id", songID),
			zap.String("video_ref", song.VideoRef),
			zap.Error(err))
	}

	now := s.clock().UTC()
	song.VideoRef = ""
	song.VideoByteSize = 0
	song.VideoFormat = ""
	song.UpdatedAt = &now
	if err := s.db.WithContext(ctx).Save(&song).Error; err != nil {
		s.logError(opRemoveVideo, "record_save_failed", err, zap.String("song_id", songID))
		return Song{}, newServiceError(opRemoveVideo, "record_save_failed", err)
	}

	s.logger.Info("video removed", zap.String("song_id", songID))
	return song, nil
}
