package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/auth"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/progress"
	"github.com/caseloom/caseloom/internal/server/middleware"
	"github.com/caseloom/caseloom/internal/server/responses"
)

// newSocketServer serves the websocket endpoint behind real bearer auth, the
// way the API listener mounts it.
func newSocketServer(t *testing.T, f *serverFixture) *httptest.Server {
	t.Helper()
	verifier := auth.NewStaticVerifier(map[string]string{"tok-1": "user-1", "tok-2": "user-2"})
	adapter := clerrors.NewHTTPErrorAdapter(quietLogger())
	mux := http.NewServeMux()
	mux.Handle("GET /api/ws", middleware.Auth(verifier, adapter)(http.HandlerFunc(f.sockets.HandleSocket)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialSocket(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err, "dial %s", url)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// subscribeCase sends the subscribe frame and waits for the hub to register
// the subscription, so a following publish cannot race past it.
func subscribeCase(t *testing.T, conn *websocket.Conn, f *serverFixture, caseID string) {
	t.Helper()
	before := f.hub.CaseSubscriberCount(caseID)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgSubscribeCase, CaseFileID: caseID}))
	require.Eventually(t, func() bool {
		return f.hub.CaseSubscriberCount(caseID) > before
	}, 2*time.Second, 5*time.Millisecond, "subscription to %s never registered", caseID)
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (serverFrame, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var frame serverFrame
	err := conn.ReadJSON(&frame)
	return frame, err
}

func TestSocketStreamsDocumentProgress(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	srv := newSocketServer(t, f)

	conn := dialSocket(t, srv, "?token=tok-1", nil)
	subscribeCase(t, conn, f, "case-1")

	up := f.upload(t, "case-1", "user-1", "motion.txt", "Defendant moves to dismiss the complaint.")
	require.Equal(t, http.StatusOK, up.Code)
	var uploaded responses.UploadResponse
	decodeJSON(t, up, &uploaded)

	frames := make([]serverFrame, 0, 4)
	for len(frames) < 4 {
		frame, err := readFrame(t, conn, 5*time.Second)
		require.NoError(t, err, "after %d frames", len(frames))
		frames = append(frames, frame)
	}

	wantKinds := []string{
		progress.KindDocumentExtracting,
		progress.KindDocumentAnalyzing,
		progress.KindDocumentIndexing,
		progress.KindDocumentComplete,
	}
	wantPercents := []int{30, 60, 85, 100}
	for i, frame := range frames {
		assert.Equal(t, "document:progress", frame.Event)
		assert.Equal(t, wantKinds[i], frame.Data.Kind)
		assert.Equal(t, wantPercents[i], frame.Data.Percent)
		assert.Equal(t, uploaded.DocumentID, frame.Data.DocumentID)
		assert.Equal(t, "case-1", frame.Data.CaseID)
		assert.Equal(t, "motion.txt", frame.Data.Filename)
		assert.False(t, frame.Data.Timestamp.IsZero())
	}
}

func TestSocketFrameWireFormat(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	srv := newSocketServer(t, f)
	conn := dialSocket(t, srv, "?token=tok-1", nil)
	subscribeCase(t, conn, f, "case-1")

	f.hub.Publish(progress.Event{
		Kind:       progress.KindDocumentExtracting,
		DocumentID: "doc-1",
		CaseID:     "case-1",
		Filename:   "motion.pdf",
		Percent:    30,
		Message:    "Extracting text",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Contains(t, msg, "event")
	require.Contains(t, msg, "data")

	var data map[string]any
	require.NoError(t, json.Unmarshal(msg["data"], &data))
	assert.Equal(t, "document:extracting", data["kind"])
	assert.Equal(t, "doc-1", data["documentId"])
	assert.Equal(t, "case-1", data["caseFileId"])
	assert.Equal(t, "motion.pdf", data["filename"])
	assert.Equal(t, float64(30), data["progress"])
	assert.Equal(t, "Extracting text", data["message"])
	assert.Contains(t, data, "timestamp")
	// Summary-only fields stay off document frames.
	assert.NotContains(t, data, "version")
	assert.NotContains(t, data, "documentCount")
}

func TestSocketRoutesSummaryEvents(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	srv := newSocketServer(t, f)
	conn := dialSocket(t, srv, "?token=tok-1", nil)
	subscribeCase(t, conn, f, "case-1")

	f.hub.Publish(progress.Event{
		Kind:          progress.KindSummaryComplete,
		CaseID:        "case-1",
		Percent:       100,
		Message:       "Case summary ready",
		Version:       2,
		DocumentCount: 5,
	})

	frame, err := readFrame(t, conn, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "summary:progress", frame.Event)
	assert.Equal(t, progress.KindSummaryComplete, frame.Data.Kind)
	assert.Equal(t, 2, frame.Data.Version)
	assert.Equal(t, 5, frame.Data.DocumentCount)
	assert.Empty(t, frame.Data.DocumentID)
}

func TestSocketIgnoresForeignCaseSubscription(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	f.seedCase(t, "case-2", "user-2")
	srv := newSocketServer(t, f)
	conn := dialSocket(t, srv, "?token=tok-1", nil)

	// The foreign subscribe is silently dropped. Messages on one connection
	// are handled in order, so once the owned subscription registers the
	// foreign one has been processed.
	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgSubscribeCase, CaseFileID: "case-2"}))
	subscribeCase(t, conn, f, "case-1")
	assert.Equal(t, 0, f.hub.CaseSubscriberCount("case-2"))

	f.hub.Publish(progress.Event{Kind: progress.KindDocumentComplete, CaseID: "case-2", Percent: 100})
	f.hub.Publish(progress.Event{Kind: progress.KindDocumentComplete, CaseID: "case-1", Percent: 100})

	frame, err := readFrame(t, conn, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "case-1", frame.Data.CaseID)
}

func TestSocketUnsubscribeStopsDelivery(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	srv := newSocketServer(t, f)
	conn := dialSocket(t, srv, "?token=tok-1", nil)

	subscribeCase(t, conn, f, "case-1")
	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgUnsubscribeCase, CaseFileID: "case-1"}))
	require.Eventually(t, func() bool {
		return f.hub.CaseSubscriberCount("case-1") == 0
	}, 2*time.Second, 5*time.Millisecond)

	f.hub.Publish(progress.Event{Kind: progress.KindDocumentComplete, CaseID: "case-1", Percent: 100})
	_, err := readFrame(t, conn, 200*time.Millisecond)
	assert.Error(t, err, "no frame expected after unsubscribe")

	// The connection itself stays usable.
	conn2 := dialSocket(t, srv, "?token=tok-1", nil)
	subscribeCase(t, conn2, f, "case-1")
	f.hub.Publish(progress.Event{Kind: progress.KindDocumentComplete, CaseID: "case-1", Percent: 100})
	frame, err := readFrame(t, conn2, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "case-1", frame.Data.CaseID)
}

func TestSocketRejectsBadCredentials(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	srv := newSocketServer(t, f)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	conn, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=wrong", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSocketAcceptsAuthorizationHeader(t *testing.T) {
	f := newServerFixture(t, okAnalysis)
	f.seedCase(t, "case-1", "user-1")
	srv := newSocketServer(t, f)

	header := http.Header{"Authorization": {"Bearer tok-1"}}
	conn := dialSocket(t, srv, "", header)
	subscribeCase(t, conn, f, "case-1")

	f.hub.Publish(progress.Event{Kind: progress.KindDocumentIndexing, CaseID: "case-1", Percent: 85})
	frame, err := readFrame(t, conn, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, progress.KindDocumentIndexing, frame.Data.Kind)
}
