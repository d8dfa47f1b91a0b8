package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/cache"
	"github.com/tubealert/tubealert/internal/db"
	"github.com/tubealert/tubealert/internal/httpapi"
	"github.com/tubealert/tubealert/internal/ids"
	"github.com/tubealert/tubealert/internal/log"
	"github.com/tubealert/tubealert/internal/monitor"
	"github.com/tubealert/tubealert/internal/notify"
	"github.com/tubealert/tubealert/internal/source"
)

// queryTypeAll asks for every content type in one live-link call.
const queryTypeAll = "all"

// Handler holds dependencies for API handlers.
type Handler struct {
	registry        *monitor.Registry
	src             source.Source
	cache           *cache.Cache
	sender          monitor.WebhookSender
	database        *db.DB
	repo            *db.ChannelRepository
	defaultInterval time.Duration
	minInterval     time.Duration
	testWebhookURL  string
}

// NewHandler creates a new API handler.
func NewHandler(
	registry *monitor.Registry,
	src source.Source,
	c *cache.Cache,
	sender monitor.WebhookSender,
	database *db.DB,
	repo *db.ChannelRepository,
	defaultInterval, minInterval time.Duration,
	testWebhookURL string,
) *Handler {
	return &Handler{
		registry:        registry,
		src:             src,
		cache:           c,
		sender:          sender,
		database:        database,
		repo:            repo,
		defaultInterval: defaultInterval,
		minInterval:     minInterval,
		testWebhookURL:  testWebhookURL,
	}
}

// LiveStatus is the live part of a live-link response.
type LiveStatus struct {
	IsLive       bool   `json:"is_live"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	SourceMethod string `json:"source_method"`
}

// ContentListing is the videos/shorts part of a live-link response.
type ContentListing struct {
	Items        []ContentItem `json:"items"`
	SourceMethod string        `json:"source_method"`
}

// ContentItem is one video or short in a listing.
type ContentItem struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// LiveLinkData is the cacheable payload of a live-link query.
type LiveLinkData struct {
	Live   *LiveStatus     `json:"live,omitempty"`
	Videos *ContentListing `json:"videos,omitempty"`
	Shorts *ContentListing `json:"shorts,omitempty"`
}

// liveLinkListLimit bounds how many items a listing query returns.
const liveLinkListLimit = 5

// GetLiveLink handles GET /api/live-link
func (h *Handler) GetLiveLink(c *gin.Context) {
	handle, err := db.NormalizeHandle(c.Query("channel"))
	if err != nil {
		httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
		return
	}

	queryType := c.DefaultQuery("type", queryTypeAll)
	switch queryType {
	case queryTypeAll, string(db.ContentLive), string(db.ContentVideos), string(db.ContentShorts):
	default:
		httpapi.RespondValidationError(c, "Invalid type: must be live, videos, shorts or all")
		return
	}

	key := cache.Key{Handle: handle, ContentType: queryType}
	if cached, age, ok := h.cache.Get(key); ok {
		data := cached.(*LiveLinkData)
		httpapi.RespondOK(c, gin.H{
			"channel":      handle,
			"type":         queryType,
			"cached":       true,
			"cache_age_ms": age.Milliseconds(),
			"data":         data,
		})
		return
	}

	data, err := h.queryContent(c.Request.Context(), handle, queryType)
	if err != nil {
		log.Error("content query failed",
			zap.String("channel", handle),
			zap.String("type", queryType),
			zap.Error(err),
		)
		httpapi.RespondErrorDetail(c, http.StatusBadGateway, httpapi.ErrCodeUpstream,
			"Failed to query channel content", err)
		return
	}

	h.cache.Set(key, data)
	httpapi.RespondOK(c, gin.H{
		"channel": handle,
		"type":    queryType,
		"cached":  false,
		"data":    data,
	})
}

func (h *Handler) queryContent(ctx context.Context, handle, queryType string) (*LiveLinkData, error) {
	data := &LiveLinkData{}

	if queryType == queryTypeAll || queryType == string(db.ContentLive) {
		res, err := h.src.IsLive(ctx, handle)
		if err != nil {
			return nil, err
		}
		data.Live = &LiveStatus{
			IsLive:       res.IsLive,
			URL:          res.URL,
			Title:        res.Title,
			Thumbnail:    res.Thumbnail,
			SourceMethod: string(res.SourceMethod),
		}
	}
	if queryType == queryTypeAll || queryType == string(db.ContentVideos) {
		res, err := h.src.LatestVideos(ctx, handle, liveLinkListLimit)
		if err != nil {
			return nil, err
		}
		data.Videos = toListing(res)
	}
	if queryType == queryTypeAll || queryType == string(db.ContentShorts) {
		res, err := h.src.LatestShorts(ctx, handle, liveLinkListLimit)
		if err != nil {
			return nil, err
		}
		data.Shorts = toListing(res)
	}
	return data, nil
}

func toListing(res *source.ListResult) *ContentListing {
	listing := &ContentListing{
		Items:        make([]ContentItem, 0, len(res.Items)),
		SourceMethod: string(res.SourceMethod),
	}
	for _, item := range res.Items {
		out := ContentItem{
			ID:        item.ID,
			Title:     item.Title,
			URL:       item.URL,
			Thumbnail: item.Thumbnail,
		}
		if !item.PublishedAt.IsZero() {
			out.PublishedAt = item.PublishedAt.Format(time.RFC3339)
		}
		listing.Items = append(listing.Items, out)
	}
	return listing
}

// SetupMonitoringRequest represents the request body for monitoring setup.
type SetupMonitoringRequest struct {
	Channel      string   `json:"channel" binding:"required"`
	Webhook      string   `json:"webhook" binding:"required"`
	IntervalMs   *int64   `json:"interval,omitempty"`
	ContentTypes []string `json:"contentTypes,omitempty"`
}

// SetupMonitoring handles POST /api/monitoring/setup
func (h *Handler) SetupMonitoring(c *gin.Context) {
	var req SetupMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	if !isValidWebhookURL(req.Webhook) {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL,
			"The provided webhook URL is not a valid absolute http(s) URL")
		return
	}

	interval := h.defaultInterval
	if req.IntervalMs != nil {
		interval = time.Duration(*req.IntervalMs) * time.Millisecond
	}
	if interval < h.minInterval {
		httpapi.RespondValidationError(c, "interval is below the minimum poll interval")
		return
	}

	contentTypes := db.AllContentTypes()
	if len(req.ContentTypes) > 0 {
		contentTypes = make([]db.ContentType, 0, len(req.ContentTypes))
		for _, raw := range req.ContentTypes {
			ct := db.ContentType(raw)
			if !db.ValidContentTypes[ct] {
				httpapi.RespondValidationError(c, "Invalid content type: "+raw)
				return
			}
			contentTypes = append(contentTypes, ct)
		}
	}

	cfg := &db.ChannelConfig{
		ChannelHandle: req.Channel,
		WebhookURL:    req.Webhook,
		ContentTypes:  contentTypes,
		PollInterval:  interval,
	}

	outcome, err := h.registry.Setup(c.Request.Context(), cfg)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrMaxMonitorsExceeded):
			httpapi.RespondError(c, http.StatusTooManyRequests, httpapi.ErrCodeMaxMonitors,
				"Maximum number of monitored channels reached")
		case errors.Is(err, db.ErrInvalidHandle):
			httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
		default:
			log.Error("monitoring setup failed",
				zap.String("channel", req.Channel),
				zap.Error(err),
			)
			httpapi.RespondInternalError(c, "Failed to set up monitoring", err)
		}
		return
	}

	h.cache.Invalidate(cfg.ChannelHandle)

	body := gin.H{
		"channel": cfg.ChannelHandle,
		"status":  string(outcome),
	}
	if outcome == monitor.OutcomeStarted {
		httpapi.RespondCreated(c, body)
		return
	}
	httpapi.RespondOK(c, body)
}

// StopMonitoringRequest represents the request body for stopping monitoring.
// An empty channel stops every monitored channel.
type StopMonitoringRequest struct {
	Channel string `json:"channel,omitempty"`
}

// StopMonitoring handles POST /api/monitoring/stop
func (h *Handler) StopMonitoring(c *gin.Context) {
	// Every field is optional, so an absent body means stop-all.
	var req StopMonitoringRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpapi.RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	if req.Channel == "" {
		handles, err := h.registry.StopAll(c.Request.Context())
		if err != nil {
			log.Error("stop-all failed", zap.Error(err))
			httpapi.RespondInternalError(c, "Failed to stop all channels", err)
			return
		}
		for _, handle := range handles {
			h.cache.Invalidate(handle)
		}
		httpapi.RespondOK(c, gin.H{"stopped": handles})
		return
	}

	err := h.registry.Stop(c.Request.Context(), req.Channel)
	switch {
	case errors.Is(err, monitor.ErrNotMonitoring):
		httpapi.RespondNotFound(c, "Channel is not being monitored")
		return
	case errors.Is(err, db.ErrInvalidHandle):
		httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
		return
	case err != nil:
		log.Error("monitoring stop failed",
			zap.String("channel", req.Channel),
			zap.Error(err),
		)
		httpapi.RespondInternalError(c, "Failed to stop monitoring", err)
		return
	}

	handle, _ := db.NormalizeHandle(req.Channel)
	h.cache.Invalidate(handle)
	httpapi.RespondOK(c, gin.H{"stopped": []string{handle}})
}

// RestartMonitoringRequest represents the request body for a restart.
type RestartMonitoringRequest struct {
	Channel string `json:"channel" binding:"required"`
}

// RestartMonitoring handles POST /api/monitoring/restart
func (h *Handler) RestartMonitoring(c *gin.Context) {
	var req RestartMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	err := h.registry.Restart(c.Request.Context(), req.Channel)
	switch {
	case errors.Is(err, monitor.ErrNotMonitoring):
		httpapi.RespondNotFound(c, "Channel has no active or persisted monitoring config")
		return
	case errors.Is(err, db.ErrInvalidHandle):
		httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
		return
	case err != nil:
		log.Error("monitoring restart failed",
			zap.String("channel", req.Channel),
			zap.Error(err),
		)
		httpapi.RespondInternalError(c, "Failed to restart monitoring", err)
		return
	}

	handle, _ := db.NormalizeHandle(req.Channel)
	httpapi.RespondOK(c, gin.H{"channel": handle, "status": "restarted"})
}

// GetStatus handles GET /api/monitoring/status
func (h *Handler) GetStatus(c *gin.Context) {
	if channel := c.Query("channel"); channel != "" {
		status, err := h.registry.Status(channel)
		switch {
		case errors.Is(err, monitor.ErrNotMonitoring):
			httpapi.RespondNotFound(c, "Channel is not being monitored")
			return
		case errors.Is(err, db.ErrInvalidHandle):
			httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
			return
		}
		httpapi.RespondOK(c, gin.H{"status": status})
		return
	}

	statuses := h.registry.List()
	httpapi.RespondOK(c, gin.H{
		"count":    len(statuses),
		"channels": statuses,
	})
}

// GetChannels handles GET /api/monitoring/channels
func (h *Handler) GetChannels(c *gin.Context) {
	channels, err := h.registry.ListConfigured(c.Request.Context())
	if err != nil {
		log.Error("failed to list configured channels", zap.Error(err))
		httpapi.RespondErrorDetail(c, http.StatusInternalServerError, httpapi.ErrCodeDatabase,
			"Failed to list configured channels", err)
		return
	}
	httpapi.RespondOK(c, gin.H{
		"count":    len(channels),
		"channels": channels,
	})
}

// TestWebhookRequest represents the request body for a webhook test.
type TestWebhookRequest struct {
	Webhook string `json:"webhook,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// TestWebhook handles POST /api/monitoring/test-webhook
func (h *Handler) TestWebhook(c *gin.Context) {
	var req TestWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	webhookURL := req.Webhook
	if webhookURL == "" {
		webhookURL = h.testWebhookURL
	}
	if webhookURL == "" {
		httpapi.RespondValidationError(c, "No webhook URL provided and no default configured")
		return
	}
	if !isValidWebhookURL(webhookURL) {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL,
			"The provided webhook URL is not a valid absolute http(s) URL")
		return
	}

	channel := req.Channel
	if channel != "" {
		normalized, err := db.NormalizeHandle(channel)
		if err != nil {
			httpapi.RespondValidationError(c, "Invalid channel handle: "+err.Error())
			return
		}
		channel = normalized
	}

	event := notify.Event{
		Type:    notify.EventTest,
		EventID: ids.NewEventID(),
		Channel: channel,
	}
	result := h.sender.Send(c.Request.Context(), webhookURL, notify.Format(event))
	if !result.Success {
		httpapi.RespondErrorDetail(c, http.StatusBadGateway, httpapi.ErrCodeUpstream,
			"Webhook delivery failed: "+result.Error, nil)
		return
	}

	httpapi.RespondOK(c, gin.H{
		"event_id":    event.EventID,
		"status_code": result.StatusCode,
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	dbHealthy := true
	if err := h.database.Health(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Warn("database health check failed", zap.Error(err))
	}

	configured := -1
	if count, err := h.repo.Count(c.Request.Context()); err == nil {
		configured = count
	}

	status := http.StatusOK
	state := "ok"
	if !dbHealthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":              state,
		"database":            dbHealthy,
		"active_monitors":     h.registry.Count(),
		"configured_channels": configured,
		"cache_entries":       h.cache.Len(),
	})
}

func isValidWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
