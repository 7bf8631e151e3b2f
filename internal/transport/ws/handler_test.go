package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perfassess/internal/model"
	"perfassess/internal/service"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type staticSnapshots map[string]*model.PerformanceAssessment

func (s staticSnapshots) Snapshot(_ context.Context, id string) (*model.PerformanceAssessment, error) {
	return s[id], nil
}

func TestObserverWS(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := runHub(t)
	defer stop()

	auth := service.NewAuthService("observer", "hunter22", "0123456789abcdef0123")
	login, err := auth.Login("observer", "hunter22")
	require.NoError(t, err)

	snaps := staticSnapshots{"s1": {SessionID: "s1", Evaluator: "Sgt. Reyes"}}
	r := mux.NewRouter()
	r.HandleFunc("/v1/ws/sessions/{id}/observer", NewHandler(hub, auth, snaps, nil).ObserverWS)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/sessions/s1/observer"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=forged", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+login.Token, nil)
	require.NoError(t, err)

	var first Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, MessageType(service.MsgSnapshot), first.Type)
	assert.Contains(t, string(first.Payload), "Sgt. Reyes")

	require.Eventually(t, func() bool { return hub.Observers("s1") == 1 }, time.Second, time.Millisecond)
	hub.BroadcastToObservers("s1", service.MsgFeedback, model.DomainActions{Strategy: model.Strategy{Name: "Slow down"}})
	var next Message
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, MessageType(service.MsgFeedback), next.Type)

	hub.DisconnectSession("s1")
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.Observers("s1") == 0 }, time.Second, time.Millisecond)
}
