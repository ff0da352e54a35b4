package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

func tenantHeader(userID, orgID string) http.Header {
	header := http.Header{}
	header.Set(tenant.HeaderUserID, userID)
	if orgID != "" {
		header.Set(tenant.HeaderOrganizationID, orgID)
	}
	return header
}

func dialFeed(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/segments" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSegmentFeedHub_DeliversOnlyToOwnTenant(t *testing.T) {
	hub := NewSegmentFeedHub(nil)
	defer hub.Close()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/segments", hub.ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mine := dialFeed(t, srv, "", tenantHeader("u1", "org1"))
	other := dialFeed(t, srv, "", tenantHeader("u2", ""))

	own := tenant.Scope{UserID: "u1", OrganizationID: "org1"}
	require.Eventually(t, func() bool {
		return hub.Connections(own) == 1 && hub.Connections(tenant.Scope{UserID: "u2"}) == 1
	}, time.Second, 10*time.Millisecond)

	evt := domain.SegmentRecalculated{SegmentID: "s1", UserID: "u1", OrganizationID: "org1", CustomerCount: 3}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, hub.HandleEvent(context.Background(), kafka.Message{Value: payload}))

	_ = mine.SetReadDeadline(time.Now().Add(time.Second))
	_, got, err := mine.ReadMessage()
	require.NoError(t, err)
	var decoded domain.SegmentRecalculated
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, "s1", decoded.SegmentID)
	assert.Equal(t, 3, decoded.CustomerCount)

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "another tenant receives nothing")
}

func TestSegmentFeedHub_RejectsMissingTenant(t *testing.T) {
	hub := NewSegmentFeedHub(nil)
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws/segments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSegmentFeedHub_IgnoresQueryTenant(t *testing.T) {
	hub := NewSegmentFeedHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=u1&organizationId=org1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, hub.Connections(tenant.Scope{UserID: "u1", OrganizationID: "org1"}))
}

func TestSegmentFeedHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewSegmentFeedHub([]string{"https://dash.example.com"})
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	header := tenantHeader("u1", "")
	header.Set("Origin", "https://dash.example.com")
	conn := dialFeed(t, srv, "", header)
	scope := tenant.Scope{UserID: "u1"}
	require.Eventually(t, func() bool { return hub.Connections(scope) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections(scope) == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Broadcast(scope, []byte(`{}`)))
}

func TestSegmentFeedHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewSegmentFeedHub([]string{"https://dash.example.com"})
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	header := tenantHeader("u1", "")
	header.Set("Origin", "https://evil.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSegmentFeedHub_BadEvent(t *testing.T) {
	hub := NewSegmentFeedHub(nil)
	assert.Error(t, hub.HandleEvent(context.Background(), kafka.Message{Value: []byte("not json")}))
}
