package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pbxlink/internal/auth"
	"pbxlink/internal/calls"
	"pbxlink/internal/channels"
	"pbxlink/internal/config"
	"pbxlink/internal/contacts"
	"pbxlink/internal/directory"
	"pbxlink/internal/notify"
	"pbxlink/internal/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiEnv struct {
	router      *gin.Engine
	callRepo    *calls.MemoryRepo
	channelRepo *channels.MemoryRepo
}

// stubSystem injects the agent identity the auth middleware would.
func stubSystem(systemName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithSystem(c.Request.Context(), systemName))
		c.Next()
	}
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	callRepo := calls.NewMemoryRepo()
	channelRepo := channels.NewMemoryRepo()
	contactSvc := contacts.NewService(contacts.NewMemoryRepo(), nil)
	corr := calls.NewCorrelator(callRepo, contactSvc, nil, notify.NewRecorder(), calls.Options{}, nil)
	dirSvc := directory.NewService(directory.NewMemoryRepo(), nil)
	tracer := trace.NewTracer(trace.NewMemoryRepo(), false, nil)
	registry := channels.NewRegistry(channelRepo, corr, dirSvc, tracer, nil, nil, channels.Options{}, nil)

	h := Handlers{Registry: registry, Calls: callRepo, Channels: channelRepo}

	r := gin.New()
	agent := r.Group("/agent", stubSystem("asterisk-1"))
	agent.POST("/events", h.IngestEvents)
	v1 := r.Group("/v1", stubSystem("asterisk-1"))
	v1.GET("/calls", h.ListCalls)
	v1.GET("/calls/:uniqueid", h.GetCall)
	v1.GET("/channels", h.ListChannels)

	return &apiEnv{router: r, callRepo: callRepo, channelRepo: channelRepo}
}

func (e *apiEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestIngestEvents_JSONBatch(t *testing.T) {
	env := newAPIEnv(t)

	body := `[
		{"Event": "Newchannel", "Channel": "SIP/1001-0001", "Uniqueid": "10.1", "Linkedid": "10.1", "CallerIDNum": "1001", "Exten": "2002"},
		{"Event": "Hangup", "Channel": "SIP/1001-0001", "Uniqueid": "10.1", "Cause": "16", "Cause-txt": "Normal Clearing"}
	]`
	w := env.do(t, http.MethodPost, "/agent/events", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []eventResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	for _, res := range resp.Results {
		if res.Error != "" {
			t.Fatalf("unexpected event error: %s", res.Error)
		}
	}

	call, err := env.callRepo.GetByUniqueID(context.Background(), "10.1")
	if err != nil {
		t.Fatalf("call not created: %v", err)
	}
	if call.IsActive {
		t.Fatalf("expected ended call")
	}
	// The token's system wins over the payload.
	if call.SystemName != "asterisk-1" {
		t.Fatalf("system = %q", call.SystemName)
	}
}

func TestIngestEvents_MalformedEventFailsAlone(t *testing.T) {
	env := newAPIEnv(t)

	body := `[
		{"Event": "Newchannel"},
		{"Event": "Newchannel", "Channel": "SIP/1001-0002", "Uniqueid": "11.1", "Linkedid": "11.1"}
	]`
	w := env.do(t, http.MethodPost, "/agent/events", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []eventResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Error == "" {
		t.Fatalf("expected error for malformed event")
	}
	if resp.Results[1].Error != "" {
		t.Fatalf("second event should succeed: %s", resp.Results[1].Error)
	}
	if _, err := env.callRepo.GetByUniqueID(context.Background(), "11.1"); err != nil {
		t.Fatalf("second event not processed: %v", err)
	}
}

func TestIngestEvents_RawWireFormat(t *testing.T) {
	env := newAPIEnv(t)

	body := "Event: Newchannel\r\n" +
		"Channel: SIP/1001-0003\r\n" +
		"Uniqueid: 12.1\r\n" +
		"Linkedid: 12.1\r\n" +
		"\r\n"
	w := env.do(t, http.MethodPost, "/agent/events", "text/plain", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if _, err := env.callRepo.GetByUniqueID(context.Background(), "12.1"); err != nil {
		t.Fatalf("event not processed: %v", err)
	}
}

func TestIngestEvents_RejectsBadJSON(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodPost, "/agent/events", "application/json", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListCalls_FiltersActive(t *testing.T) {
	env := newAPIEnv(t)
	seed := `[
		{"Event": "Newchannel", "Channel": "SIP/1001-0004", "Uniqueid": "13.1", "Linkedid": "13.1"},
		{"Event": "Newchannel", "Channel": "SIP/1001-0005", "Uniqueid": "13.2", "Linkedid": "13.2"},
		{"Event": "Hangup", "Channel": "SIP/1001-0005", "Uniqueid": "13.2", "Cause": "16", "Cause-txt": "Normal Clearing"}
	]`
	if w := env.do(t, http.MethodPost, "/agent/events", "application/json", seed); w.Code != http.StatusOK {
		t.Fatalf("seed failed: %s", w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/v1/calls?active=1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Calls []calls.Call `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].UniqueID != "13.1" {
		t.Fatalf("expected only the active call, got %+v", resp.Calls)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/v1/calls/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetCall_IncludesEventLog(t *testing.T) {
	env := newAPIEnv(t)
	seed := `[
		{"Event": "Newchannel", "Channel": "SIP/1001-0006", "Uniqueid": "14.1", "Linkedid": "14.1"},
		{"Event": "Newstate", "Channel": "SIP/1001-0006", "Uniqueid": "14.1", "ChannelState": "4", "ChannelStateDesc": "Ring"}
	]`
	if w := env.do(t, http.MethodPost, "/agent/events", "application/json", seed); w.Code != http.StatusOK {
		t.Fatalf("seed failed: %s", w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/v1/calls/14.1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Call     calls.Call         `json:"call"`
		Events   []calls.CallEvent  `json:"events"`
		Channels []channels.Channel `json:"channels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Call.UniqueID != "14.1" {
		t.Fatalf("unexpected call: %+v", resp.Call)
	}
	if len(resp.Events) == 0 || !strings.Contains(resp.Events[0].Text, "status is Ring") {
		t.Fatalf("expected status log line, got %+v", resp.Events)
	}
	if len(resp.Channels) != 1 || resp.Channels[0].UniqueID != "14.1" {
		t.Fatalf("expected the call's leg, got %+v", resp.Channels)
	}
}

func TestListChannels(t *testing.T) {
	env := newAPIEnv(t)
	seed := `[{"Event": "Newchannel", "Channel": "SIP/1001-0007", "Uniqueid": "15.1", "Linkedid": "15.1"}]`
	if w := env.do(t, http.MethodPost, "/agent/events", "application/json", seed); w.Code != http.StatusOK {
		t.Fatalf("seed failed: %s", w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/v1/channels?active=1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Channels []channels.Channel `json:"channels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Channels) != 1 || resp.Channels[0].Name != "SIP/1001-0007" {
		t.Fatalf("unexpected channels: %+v", resp.Channels)
	}
}

func TestAgentBoundary_RejectsMissingToken(t *testing.T) {
	m, err := auth.NewManager(config.AgentConfig{Secret: "secret", TokenTTL: time.Minute})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r := gin.New()
	r.POST("/agent/events", auth.RequireAgentToken(m), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agent/events", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}

	tok, err := m.Issue(time.Now(), "asterisk-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/agent/events", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with token = %d", w.Code)
	}
}
