package songs

import (
	"errors"
	"strings"
	"testing"
)

func TestAudioValidatorAcceptsAllowedUpload(t *testing.T) {
	validator := NewAudioValidator(0)
	upload := FileUpload{
		Filename:    "track.mp3",
		ContentType: "audio/mpeg",
		Size:        1024,
		Content:     strings.NewReader("data"),
	}

	if err := validator.Validate(upload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudioValidatorAcceptsAudioPrefixedMIME(t *testing.T) {
	validator := NewAudioValidator(0)
	upload := FileUpload{
		Filename:    "track.flac",
		ContentType: "audio/x-custom-codec",
		Size:        1024,
		Content:     strings.NewReader("data"),
	}

	if err := validator.Validate(upload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudioValidatorRejections(t *testing.T) {
	validator := NewAudioValidator(100)

	tests := []struct {
		name   string
		upload FileUpload
	}{
		{
			name:   "missing-content",
			upload: FileUpload{Filename: "track.mp3", Size: 10},
		},
		{
			name:   "zero-size",
			upload: FileUpload{Filename: "track.mp3", Content: strings.NewReader("")},
		},
		{
			name:   "too-large",
			upload: FileUpload{Filename: "track.mp3", Size: 101, Content: strings.NewReader("x")},
		},
		{
			name:   "bad-extension",
			upload: FileUpload{Filename: "track.exe", Size: 10, Content: strings.NewReader("x")},
		},
		{
			name:   "no-extension",
			upload: FileUpload{Filename: "track", Size: 10, Content: strings.NewReader("x")},
		},
		{
			name:   "bad-mime",
			upload: FileUpload{Filename: "track.mp3", ContentType: "application/zip", Size: 10, Content: strings.NewReader("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.upload)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestVideoValidatorAllowsOnlyMP4(t *testing.T) {
	validator := NewVideoValidator(0)

	good := FileUpload{Filename: "bg.mp4", ContentType: "video/mp4", Size: 10, Content: strings.NewReader("x")}
	if err := validator.Validate(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := FileUpload{Filename: "bg.webm", ContentType: "video/webm", Size: 10, Content: strings.NewReader("x")}
	if err := validator.Validate(bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	wrongMIME := FileUpload{Filename: "bg.mp4", ContentType: "video/quicktime", Size: 10, Content: strings.NewReader("x")}
	if err := validator.Validate(wrongMIME); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for declared quicktime, got %v", err)
	}
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{filename: "song.MP3", want: "mp3"},
		{filename: "archive.tar.gz", want: "gz"},
		{filename: "noext", want: ""},
		{filename: "trailingdot.", want: ""},
		{filename: "", want: ""},
	}

	for _, tt := range tests {
		if got := FileExtension(tt.filename); got != tt.want {
			t.Fatalf("FileExtension(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
