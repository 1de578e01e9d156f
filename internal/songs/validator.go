package songs

import (
	"io"
	"strings"
)

const (
	// DefaultMaxAudioBytes caps uploaded audio files at 100MB.
	DefaultMaxAudioBytes = 100 * 1024 * 1024
	// DefaultMaxVideoBytes caps attached background videos at 50MB.
	DefaultMaxVideoBytes = 50 * 1024 * 1024
)

var (
	audioExtensions = []string{"mp3", "wav", "ogg", "flac"}
	audioMIMETypes  = []string{
		"audio/mpeg",
		"audio/mp3",
		"audio/wav",
		"audio/wave",
		"audio/x-wav",
		"audio/ogg",
		"audio/flac",
		"audio/x-flac",
	}
	videoExtensions = []string{"mp4"}
	videoMIMETypes  = []string{"video/mp4"}
)

// FileUpload is the in-process representation of an uploaded file.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// FileValidator checks uploads against a fixed allow-list profile before any
// storage write occurs. Validation failures are terminal with no side effects.
type FileValidator struct {
	label      string
	maxBytes   int64
	extensions []string
	mimeTypes  []string
	mimePrefix string
}

// NewAudioValidator builds the validator profile for song uploads. A declared
// MIME type is accepted when allow-listed or carrying an audio/ prefix.
func NewAudioValidator(maxBytes int64) *FileValidator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAudioBytes
	}
	return &FileValidator{
		label:      "audio",
		maxBytes:   maxBytes,
		extensions: audioExtensions,
		mimeTypes:  audioMIMETypes,
		mimePrefix: "audio/",
	}
}

// NewVideoValidator builds the validator profile for background videos:
// mp4 only, declared type video/mp4 only.
func NewVideoValidator(maxBytes int64) *FileValidator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxVideoBytes
	}
	return &FileValidator{
		label:      "video",
		maxBytes:   maxBytes,
		extensions: videoExtensions,
		mimeTypes:  videoMIMETypes,
	}
}

// Validate checks the upload against the profile and reports the first
// violated constraint wrapped in ErrValidation.
func (v *FileValidator) Validate(upload FileUpload) error {
	if upload.Content == nil || upload.Size <= 0 {
		return validationError("%s file is required", v.label)
	}
	if upload.Size > v.maxBytes {
		return validationError("%s file exceeds the maximum size of %dMB", v.label, v.maxBytes/(1024*1024))
	}

	extension := FileExtension(upload.Filename)
	if !contains(v.extensions, extension) {
		return validationError("invalid %s format, allowed: %s", v.label, strings.Join(v.extensions, ", "))
	}

	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if contentType != "" && !v.acceptsMIME(contentType) {
		return validationError("invalid declared content type %q for %s upload", contentType, v.label)
	}

	return nil
}

func (v *FileValidator) acceptsMIME(contentType string) bool {
	if contains(v.mimeTypes, contentType) {
		return true
	}
	return v.mimePrefix != "" && strings.HasPrefix(contentType, v.mimePrefix)
}

// FileExtension extracts the lower-cased extension without its dot.
func FileExtension(filename string) string {
	index := strings.LastIndex(filename, ".")
	if index < 0 || index == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[index+1:])
}

func contains(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}
