package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pbxlink/internal/ami"
	"pbxlink/internal/auth"
	"pbxlink/internal/calls"
	"pbxlink/internal/channels"
	"pbxlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Registry *channels.Registry
	Calls    calls.Repository
	Channels channels.Repository

	// Redis backs the per-system ingest cap; nil disables the cap.
	Redis       *redis.Client
	MaxInflight int

	Log *slog.Logger
}

const ingestCapTTL = 30 * time.Second

func ingestCapKey(systemName string) string {
	return "pbxlink:ingest:" + systemName
}

// --- Event ingest ---

type eventResult struct {
	Result channels.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IngestEvents accepts a batch of switch events from an authenticated agent.
// JSON bodies carry a list of header maps; text bodies carry the raw manager
// wire format. One malformed event fails alone; the rest of the batch is
// still processed.
func (h Handlers) IngestEvents(c *gin.Context) {
	systemName, err := auth.SystemName(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "system_name required"})
		return
	}

	events, err := h.readEvents(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []eventResult{}})
		return
	}

	release, ok := h.acquireIngestSlot(c, systemName)
	if !ok {
		return
	}
	defer release()

	results := make([]eventResult, 0, len(events))
	for _, evt := range events {
		evt = withSystemName(evt, systemName)
		res, err := h.Registry.Handle(c.Request.Context(), evt)
		if err != nil {
			if errors.Is(err, ami.ErrMalformed) {
				results = append(results, eventResult{Error: err.Error()})
				continue
			}
			h.log().Error("event processing failed", "system", systemName, "event", evt.Type(), "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
			return
		}
		results = append(results, eventResult{Result: res})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h Handlers) readEvents(c *gin.Context) ([]ami.Event, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, errors.New("unreadable body")
	}

	ct := c.ContentType()
	if strings.HasPrefix(ct, "application/json") {
		var maps []map[string]string
		if err := jsonDecode(body, &maps); err != nil {
			// Accept a single object too.
			var one map[string]string
			if err := jsonDecode(body, &one); err != nil {
				return nil, errors.New("invalid json")
			}
			maps = []map[string]string{one}
		}
		events := make([]ami.Event, 0, len(maps))
		for _, m := range maps {
			events = append(events, ami.FromMap(m))
		}
		return events, nil
	}

	return ami.ParseBytes(body), nil
}

func jsonDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// acquireIngestSlot enforces the per-system in-flight cap. The false return
// means the response has already been written.
func (h Handlers) acquireIngestSlot(c *gin.Context, systemName string) (func(), bool) {
	if h.Redis == nil || h.MaxInflight <= 0 {
		return func() {}, true
	}
	key := ingestCapKey(systemName)
	acquired, err := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, key, h.MaxInflight, ingestCapTTL)
	if err != nil {
		h.log().Error("ingest cap check failed", "system", systemName, "err", err)
		// Fail open: dropping events is worse than briefly exceeding the cap.
		return func() {}, true
	}
	if !acquired {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many in-flight batches"})
		return nil, false
	}
	return func() {
		if err := utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, key); err != nil {
			h.log().Warn("ingest cap release failed", "system", systemName, "err", err)
		}
	}, true
}

// withSystemName stamps the authenticated system onto the event. The token's
// claim wins over whatever the payload carries.
func withSystemName(evt ami.Event, systemName string) ami.Event {
	m := evt.Map()
	m["SystemName"] = systemName
	return ami.FromMap(m)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	f := calls.Filter{
		ActiveOnly: boolQuery(c, "active"),
		Limit:      intQuery(c, "limit", 100),
	}
	out, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		h.log().Error("call list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call list failed"})
		return
	}
	if out == nil {
		out = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCall(c *gin.Context) {
	uid := c.Param("uniqueid")
	call, err := h.Calls.GetByUniqueID(c.Request.Context(), uid)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		h.log().Error("call lookup failed", "uniqueid", uid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	events, err := h.Calls.EventsForCall(c.Request.Context(), uid)
	if err != nil {
		h.log().Error("call events lookup failed", "uniqueid", uid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if events == nil {
		events = []calls.CallEvent{}
	}
	legs, err := h.Channels.ListByCall(c.Request.Context(), uid)
	if err != nil {
		h.log().Error("call channels lookup failed", "uniqueid", uid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if legs == nil {
		legs = []channels.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "events": events, "channels": legs})
}

// --- Channels ---

func (h Handlers) ListChannels(c *gin.Context) {
	f := channels.Filter{
		ActiveOnly: boolQuery(c, "active"),
		SystemName: c.Query("system"),
		Limit:      intQuery(c, "limit", 100),
	}
	out, err := h.Channels.List(c.Request.Context(), f)
	if err != nil {
		h.log().Error("channel list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "channel list failed"})
		return
	}
	if out == nil {
		out = []channels.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// --- helpers ---

func (h Handlers) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func boolQuery(c *gin.Context, key string) bool {
	switch strings.ToLower(c.Query(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
