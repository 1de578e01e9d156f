package songs

import (
	"encoding/json"
	"time"

	"github.com/cantiolabs/cantio/backend/internal/lyrics"
)

// Song models a stored audio asset together with its acquired lyrics. A row
// is created in the unconfirmed state holding a live object-store reference
// and becomes visible to listing and embedding only after confirmation.
type Song struct {
	SongID          string     `gorm:"column:song_id;primaryKey;size:190;not null"`
	OwnerID         string     `gorm:"column:owner_id;size:190;not null;index:idx_songs_owner_confirmed,priority:1"`
	Title           string     `gorm:"column:title;size:512;not null"`
	Artist          string     `gorm:"column:artist;size:512;not null"`
	ObjectRef       string     `gorm:"column:object_ref;size:512;not null"`
	ByteSize        int64      `gorm:"column:byte_size;not null"`
	Format          string     `gorm:"column:format;size:16;not null"`
	RawLyrics       string     `gorm:"column:raw_lyrics;type:text;not null;default:''"`
	TimelineJSON    string     `gorm:"column:timeline_json;type:text;not null"`
	Classification  string     `gorm:"column:classification;size:16;not null"`
	FrequencyWeight int        `gorm:"column:frequency_weight;not null;default:3"`
	SyncOffsetMs    int64      `gorm:"column:sync_offset_ms;not null;default:0"`
	Confirmed       bool       `gorm:"column:confirmed;not null;default:false;index:idx_songs_owner_confirmed,priority:2"`
	VideoRef        string     `gorm:"column:video_ref;size:512;not null;default:''"`
	VideoByteSize   int64      `gorm:"column:video_byte_size;not null;default:0"`
	VideoFormat     string     `gorm:"column:video_format;size:16;not null;default:''"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt       *time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Song) TableName() string {
	return "songs"
}

// Timeline decodes the persisted timeline. A row that fails to decode yields
// an empty timeline rather than an error; confirmed rows always carry valid
// JSON written by SetTimeline.
func (s *Song) Timeline() []lyrics.TimedLine {
	if s.TimelineJSON == "" {
		return nil
	}
	var timeline []lyrics.TimedLine
	if err := json.Unmarshal([]byte(s.TimelineJSON), &timeline); err != nil {
		return nil
	}
	return timeline
}

// SetTimeline encodes and stores the parsed timeline.
func (s *Song) SetTimeline(timeline []lyrics.TimedLine) error {
	encoded, err := json.Marshal(timeline)
	if err != nil {
		return err
	}
	s.TimelineJSON = string(encoded)
	return nil
}

// LastTouched returns the update time, falling back to creation time for
// rows that were never modified after upload.
func (s *Song) LastTouched() time.Time {
	if s.UpdatedAt != nil {
		return *s.UpdatedAt
	}
	return s.CreatedAt
}

// UploadReceipt is returned to the caller after a successful tentative
// upload, before the asset is confirmed.
type UploadReceipt struct {
	SongID         string
	Title          string
	Artist         string
	Classification string
	LyricsPreview  string
}

// AssetView is the listing projection of a confirmed song, carrying a signed
// audio URL instead of the raw object reference.
type AssetView struct {
	SongID          string
	Title           string
	Artist          string
	AudioURL        string
	VideoURL        string
	Format          string
	ByteSize        int64
	FrequencyWeight int
	SyncOffsetMs    int64
	Classification  string
	Timeline        []lyrics.TimedLine
	UpdatedAt       time.Time
}
