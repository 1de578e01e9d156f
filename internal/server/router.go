package server

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/cantiolabs/cantio/backend/internal/lyrics"
	"github.com/cantiolabs/cantio/backend/internal/quota"
	"github.com/cantiolabs/cantio/backend/internal/songs"
	"github.com/cantiolabs/cantio/backend/internal/users"
)

const ownerIDContextKey = "cantio_owner_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingSongsService  = errors.New("songs service dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingQuotaService  = errors.New("quota service dependency required")
	errMissingTrackSearcher = errors.New("track searcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens for registered accounts.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// TrackSearcher queries the lyrics catalog for candidate tracks so owners can
// verify synced lyrics exist before uploading.
type TrackSearcher interface {
	Search(ctx context.Context, query string) []lyrics.Track
}

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	TokenManager    TokenManager
	SongsService    *songs.Service
	UsersService    *users.Service
	QuotaService    *quota.Service
	TrackSearcher   TrackSearcher
	EmbedDailyLimit int
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.SongsService == nil {
		return nil, errMissingSongsService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.QuotaService == nil {
		return nil, errMissingQuotaService
	}
	if deps.TrackSearcher == nil {
		return nil, errMissingTrackSearcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	embedLimit := deps.EmbedDailyLimit
	if embedLimit <= 0 {
		embedLimit = 1000
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		songs:      deps.SongsService,
		users:      deps.UsersService,
		quota:      deps.QuotaService,
		searcher:   deps.TrackSearcher,
		embedLimit: embedLimit,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleProfile)
	protected.POST("/songs", handler.handleUpload)
	protected.GET("/songs", handler.handleList)
	protected.POST("/songs/:id/confirmation", handler.handleConfirmation)
	protected.DELETE("/songs/:id", handler.handleDelete)
	protected.PUT("/songs/:id/settings", handler.handleUpdateSettings)
	protected.POST("/songs/:id/video", handler.handleAttachVideo)
	protected.DELETE("/songs/:id/video", handler.handleRemoveVideo)
	protected.GET("/lyrics/search", handler.handleLyricsSearch)

	embed := router.Group("/embed")
	embed.Use(handler.chargeEmbedRequest)
	embed.GET("/check", handler.handleEmbedCheck)
	embed.GET("/songs", handler.handleEmbedSongs)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	songs      *songs.Service
	users      *users.Service
	quota      *quota.Service
	searcher   TrackSearcher
	embedLimit int
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequestPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, users.ErrInvalidRegistration) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	if _, err := h.quota.IssueCredential(c.Request.Context(), account.AccountID); err != nil {
		// The account exists without an embed credential; /profile reports
		// the gap and a later issue attempt can close it.
		h.logger.Warn("credential issue failed during registration",
			zap.String("account_id", account.AccountID), zap.Error(err))
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.AccountID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusCreated, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("authentication failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.AccountID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type profileResponsePayload struct {
	AccountID   string `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	EmbedKey    string `json:"embed_key"`
	SongCount   int64  `json:"song_count"`
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)

	account, err := h.users.Lookup(c.Request.Context(), ownerID)
	if errors.Is(err, users.ErrUnknownAccount) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}

	embedKey := ""
	credential, err := h.quota.ForOwner(c.Request.Context(), ownerID)
	if err == nil {
		embedKey = credential.Key
	} else if !errors.Is(err, quota.ErrUnknownCredential) {
		h.logger.Error("credential lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}

	count, err := h.songs.CountConfirmed(c.Request.Context(), ownerID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}

	c.JSON(http.StatusOK, profileResponsePayload{
		AccountID:   account.AccountID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		EmbedKey:    embedKey,
		SongCount:   count,
	})
}

type uploadResponsePayload struct {
	SongID         string `json:"song_id"`
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	Classification string `json:"classification"`
	LyricsPreview  string `json:"lyrics_preview"`
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)

	title := strings.TrimSpace(c.PostForm("title"))
	artist := strings.TrimSpace(c.PostForm("artist"))
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	upload, closeUpload, err := openUpload(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file could not be read"})
		return
	}
	defer closeUpload()

	receipt, err := h.songs.Upload(c.Request.Context(), ownerID, upload, title, artist)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponsePayload{
		SongID:         receipt.SongID,
		Title:          receipt.Title,
		Artist:         receipt.Artist,
		Classification: receipt.Classification,
		LyricsPreview:  receipt.LyricsPreview,
	})
}

type confirmationRequestPayload struct {
	Confirmed *bool `json:"confirmed"`
}

func (h *httpHandler) handleConfirmation(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	songID := c.Param("id")

	var request confirmationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Confirmed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if !*request.Confirmed {
		if err := h.songs.Reject(c.Request.Context(), ownerID, songID); err != nil {
			h.respondSongsError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"song_id": songID, "confirmed": false})
		return
	}

	song, err := h.songs.Confirm(c.Request.Context(), ownerID, songID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_id": song.SongID, "confirmed": true})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	songID := c.Param("id")

	if err := h.songs.Delete(c.Request.Context(), ownerID, songID); err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleList(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)

	views, err := h.songs.List(c.Request.Context(), ownerID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": songViews(views)})
}

type settingsRequestPayload struct {
	FrequencyWeight int   `json:"frequency_weight"`
	SyncOffsetMs    int64 `json:"sync_offset_ms"`
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	songID := c.Param("id")

	var request settingsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	song, err := h.songs.UpdateSettings(c.Request.Context(), ownerID, songID, request.FrequencyWeight, request.SyncOffsetMs)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"song_id":          song.SongID,
		"frequency_weight": song.FrequencyWeight,
		"sync_offset_ms":   song.SyncOffsetMs,
	})
}

func (h *httpHandler) handleAttachVideo(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	songID := c.Param("id")

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	upload, closeUpload, err := openUpload(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file could not be read"})
		return
	}
	defer closeUpload()

	song, err := h.songs.AttachVideo(c.Request.Context(), ownerID, songID, upload)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_id": song.SongID, "video_format": song.VideoFormat})
}

func (h *httpHandler) handleRemoveVideo(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	songID := c.Param("id")

	song, err := h.songs.RemoveVideo(c.Request.Context(), ownerID, songID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_id": song.SongID})
}

type searchResultPayload struct {
	TrackName  string `json:"track_name"`
	ArtistName string `json:"artist_name"`
	AlbumName  string `json:"album_name,omitempty"`
	HasSynced  bool   `json:"has_synced"`
}

func (h *httpHandler) handleLyricsSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	tracks := h.searcher.Search(c.Request.Context(), query)
	results := make([]searchResultPayload, 0, len(tracks))
	for _, track := range tracks {
		results = append(results, searchResultPayload{
			TrackName:  track.TrackName,
			ArtistName: track.ArtistName,
			AlbumName:  track.AlbumName,
			HasSynced:  track.SyncedLyrics != "",
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *httpHandler) handleEmbedCheck(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)

	updatedAt, hasSongs, err := h.songs.LatestUpdateTime(c.Request.Context(), ownerID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}

	response := gin.H{"has_songs": hasSongs}
	if hasSongs {
		response["updated_at"] = updatedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleEmbedSongs(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)

	views, err := h.songs.List(c.Request.Context(), ownerID)
	if err != nil {
		h.respondSongsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": songViews(views)})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client behavior, not a fault.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerIDContextKey, subject)
	c.Next()
}

// chargeEmbedRequest resolves the ?key= credential, charges one request
// against its daily budget and stores the owning account for the handlers.
func (h *httpHandler) chargeEmbedRequest(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "key is required"})
		return
	}

	credential, err := h.quota.Resolve(c.Request.Context(), key)
	if errors.Is(err, quota.ErrUnknownCredential) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("credential resolve failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "embed_failed"})
		return
	}

	if err := h.quota.Charge(c.Request.Context(), key, h.embedLimit); err != nil {
		if errors.Is(err, quota.ErrDailyLimitExceeded) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "daily limit exceeded"})
			return
		}
		h.logger.Error("quota charge failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "embed_failed"})
		return
	}

	c.Set(ownerIDContextKey, credential.OwnerID)
	c.Next()
}

func (h *httpHandler) respondSongsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, songs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, songs.ErrCapacityExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, songs.ErrLyricsUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, songs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("songs request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type songViewPayload struct {
	SongID          string            `json:"song_id"`
	Title           string            `json:"title"`
	Artist          string            `json:"artist"`
	AudioURL        string            `json:"audio_url"`
	VideoURL        string            `json:"video_url,omitempty"`
	Format          string            `json:"format"`
	ByteSize        int64             `json:"byte_size"`
	FrequencyWeight int               `json:"frequency_weight"`
	SyncOffsetMs    int64             `json:"sync_offset_ms"`
	Classification  string            `json:"classification"`
	Timeline        []timelinePayload `json:"timeline"`
	UpdatedAt       string            `json:"updated_at"`
}

type timelinePayload struct {
	OffsetMs int64  `json:"offset_ms"`
	Text     string `json:"text"`
}

func songViews(views []songs.AssetView) []songViewPayload {
	payloads := make([]songViewPayload, 0, len(views))
	for _, view := range views {
		timeline := make([]timelinePayload, 0, len(view.Timeline))
		for _, line := range view.Timeline {
			timeline = append(timeline, timelinePayload{OffsetMs: line.OffsetMs, Text: line.Text})
		}
		payloads = append(payloads, songViewPayload{
			SongID:          view.SongID,
			Title:           view.Title,
			Artist:          view.Artist,
			AudioURL:        view.AudioURL,
			VideoURL:        view.VideoURL,
			Format:          view.Format,
			ByteSize:        view.ByteSize,
			FrequencyWeight: view.FrequencyWeight,
			SyncOffsetMs:    view.SyncOffsetMs,
			Classification:  view.Classification,
			Timeline:        timeline,
			UpdatedAt:       view.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}

func openUpload(header *multipart.FileHeader) (songs.FileUpload, func(), error) {
	file, err := header.Open()
	if err != nil {
		return songs.FileUpload{}, nil, err
	}
	upload := songs.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	}
	return upload, func() { _ = file.Close() }, nil
}
