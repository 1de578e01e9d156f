package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cantiolabs/cantio/backend/internal/auth"
	"github.com/cantiolabs/cantio/backend/internal/lyrics"
	"github.com/cantiolabs/cantio/backend/internal/quota"
	"github.com/cantiolabs/cantio/backend/internal/server"
	"github.com/cantiolabs/cantio/backend/internal/songs"
	"github.com/cantiolabs/cantio/backend/internal/users"
)

const (
	accountEmail    = "owner@example.com"
	accountPassword = "integration-passphrase"
	jsonContentType = "application/json"

	syncedMarkup = "[ti:Ignored Metadata]\n[00:01.00]First line\n[00:05.50]Second line\n"
)

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjectStore) Put(_ context.Context, key string, upload songs.FileUpload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buffer := &bytes.Buffer{}
	if _, err := buffer.ReadFrom(upload.Content); err != nil {
		return "", err
	}
	m.objects[key] = buffer.Bytes()
	return key, nil
}

func (m *memoryObjectStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

func (m *memoryObjectStore) Exists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[ref]
	return ok, nil
}

func (m *memoryObjectStore) SignedURL(_ context.Context, ref string, _ time.Duration) (string, error) {
	return "https://signed.example/" + ref, nil
}

func TestRegisterUploadConfirmEmbedFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", jsonContentType)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           1,
			"trackName":    r.URL.Query().Get("track_name"),
			"artistName":   r.URL.Query().Get("artist_name"),
			"plainLyrics":  "First line\nSecond line",
			"syncedLyrics": syncedMarkup,
		})
	}))
	defer catalogServer.Close()

	dsn := fmt.Sprintf("file:cantio_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&songs.Song{}, &quota.Credential{}, &users.Account{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	catalogClient, err := lyrics.NewCatalogClient(lyrics.CatalogClientConfig{
		BaseURL: catalogServer.URL,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("failed to construct catalog client: %v", err)
	}
	acquirer, err := lyrics.NewService(lyrics.ServiceConfig{Catalog: catalogClient})
	if err != nil {
		testContext.Fatalf("failed to construct acquisition service: %v", err)
	}

	objects := &memoryObjectStore{objects: map[string][]byte{}}
	songsService, err := songs.NewService(songs.ServiceConfig{
		Database:   db,
		Objects:    objects,
		Acquirer:   acquirer,
		IDProvider: songs.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct songs service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct users service: %v", err)
	}
	quotaService, err := quota.NewService(quota.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct quota service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "cantio-auth",
		Audience:      "cantio-api",
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  issuer,
		SongsService:  songsService,
		UsersService:  usersService,
		QuotaService:  quotaService,
		TrackSearcher: catalogClient,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Register, then log in again to prove the password round-trips.
	registerBody, _ := json.Marshal(map[string]string{"email": accountEmail, "password": accountPassword})
	registerResp, err := http.Post(testServer.URL+"/auth/register", jsonContentType, bytes.NewReader(registerBody))
	if err != nil {
		testContext.Fatalf("register request failed: %v", err)
	}
	registerResp.Body.Close()
	if registerResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerResp.StatusCode)
	}

	loginBody, _ := json.Marshal(map[string]string{"email": accountEmail, "password": accountPassword})
	loginResp, err := http.Post(testServer.URL+"/auth/login", jsonContentType, bytes.NewReader(loginBody))
	if err != nil {
		testContext.Fatalf("login request failed: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", loginResp.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&login); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}

	// Upload: the catalog stub serves synced markup, so the gate passes.
	uploadReq := newUploadRequest(testContext, testServer.URL+"/songs", login.AccessToken)
	uploadResp, err := http.DefaultClient.Do(uploadReq)
	if err != nil {
		testContext.Fatalf("upload request failed: %v", err)
	}
	defer uploadResp.Body.Close()
	if uploadResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected upload status: %d", uploadResp.StatusCode)
	}
	var upload struct {
		SongID         string `json:"song_id"`
		Classification string `json:"classification"`
		LyricsPreview  string `json:"lyrics_preview"`
	}
	if err := json.NewDecoder(uploadResp.Body).Decode(&upload); err != nil {
		testContext.Fatalf("failed to decode upload response: %v", err)
	}
	if upload.Classification != "SYNCED" {
		testContext.Fatalf("expected SYNCED classification, got %q", upload.Classification)
	}
	if !strings.Contains(upload.LyricsPreview, "First line") {
		testContext.Fatalf("expected lyrics preview, got %q", upload.LyricsPreview)
	}

	confirmBody, _ := json.Marshal(map[string]bool{"confirmed": true})
	confirmReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/songs/"+upload.SongID+"/confirmation", bytes.NewReader(confirmBody))
	confirmReq.Header.Set("Content-Type", jsonContentType)
	confirmReq.Header.Set("Authorization", "Bearer "+login.AccessToken)
	confirmResp, err := http.DefaultClient.Do(confirmReq)
	if err != nil {
		testContext.Fatalf("confirm request failed: %v", err)
	}
	confirmResp.Body.Close()
	if confirmResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected confirm status: %d", confirmResp.StatusCode)
	}

	// The confirmed song shows up with a signed URL and a parsed timeline.
	listReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/songs", nil)
	listReq.Header.Set("Authorization", "Bearer "+login.AccessToken)
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		testContext.Fatalf("list request failed: %v", err)
	}
	defer listResp.Body.Close()
	var listing struct {
		Songs []struct {
			SongID   string `json:"song_id"`
			AudioURL string `json:"audio_url"`
			Timeline []struct {
				OffsetMs int64  `json:"offset_ms"`
				Text     string `json:"text"`
			} `json:"timeline"`
		} `json:"songs"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		testContext.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Songs) != 1 {
		testContext.Fatalf("expected one confirmed song, got %d", len(listing.Songs))
	}
	if len(listing.Songs[0].Timeline) != 2 || listing.Songs[0].Timeline[0].OffsetMs != 1000 {
		testContext.Fatalf("unexpected timeline %#v", listing.Songs[0].Timeline)
	}
	if !strings.HasPrefix(listing.Songs[0].AudioURL, "https://signed.example/") {
		testContext.Fatalf("expected signed url, got %q", listing.Songs[0].AudioURL)
	}

	// The embed surface serves the same catalog through the API key.
	profileReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/profile", nil)
	profileReq.Header.Set("Authorization", "Bearer "+login.AccessToken)
	profileResp, err := http.DefaultClient.Do(profileReq)
	if err != nil {
		testContext.Fatalf("profile request failed: %v", err)
	}
	defer profileResp.Body.Close()
	var profile struct {
		EmbedKey string `json:"embed_key"`
	}
	if err := json.NewDecoder(profileResp.Body).Decode(&profile); err != nil {
		testContext.Fatalf("failed to decode profile: %v", err)
	}
	if profile.EmbedKey == "" {
		testContext.Fatalf("expected an embed key on the profile")
	}

	embedResp, err := http.Get(testServer.URL + "/embed/songs?key=" + profile.EmbedKey)
	if err != nil {
		testContext.Fatalf("embed request failed: %v", err)
	}
	defer embedResp.Body.Close()
	if embedResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected embed status: %d", embedResp.StatusCode)
	}
	var embedded struct {
		Songs []struct {
			SongID string `json:"song_id"`
		} `json:"songs"`
	}
	if err := json.NewDecoder(embedResp.Body).Decode(&embedded); err != nil {
		testContext.Fatalf("failed to decode embed response: %v", err)
	}
	if len(embedded.Songs) != 1 || embedded.Songs[0].SongID != upload.SongID {
		testContext.Fatalf("expected the confirmed song in the embed payload, got %#v", embedded.Songs)
	}
}

func newUploadRequest(testContext *testing.T, url, token string) *http.Request {
	testContext.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("title", "Integration Song")
	_ = writer.WriteField("artist", "Integration Artist")
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="song.mp3"`)
	header.Set("Content-Type", "audio/mpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		testContext.Fatalf("failed to create file part: %v", err)
	}
	if _, err := part.Write([]byte("integration-audio-bytes")); err != nil {
		testContext.Fatalf("failed to write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close multipart writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		testContext.Fatalf("failed to build upload request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	return request
}
