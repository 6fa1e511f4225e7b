package clientsvc

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"distask/internal/authtoken"
	"distask/internal/clock"
	"distask/internal/store"
)

func startTestServer(t *testing.T) (addr string, s *Server, stop chan struct{}) {
	t.Helper()
	auth := authtoken.New(map[string]string{"user1": "pass1"}, "sua-chave-super-secreta")
	st := store.New()
	clk := clock.New()
	log := logrus.NewEntry(logrus.New())

	s = New("127.0.0.1:0", auth, st, clk, log)
	netAddr, err := s.Listen()
	require.NoError(t, err)

	stop = make(chan struct{})
	go s.Serve(stop)

	t.Cleanup(func() { close(stop) })
	return netAddr.String(), s, stop
}

func roundTrip(t *testing.T, addr string, req interface{}) map[string]interface{} {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.True(t, err == nil || err == io.EOF)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	return resp
}

func TestLoginSuccess(t *testing.T) {
	addr, _, _ := startTestServer(t)
	resp := roundTrip(t, addr, map[string]interface{}{
		"action": "login", "username": "user1", "password": "pass1",
	})
	require.NotEmpty(t, resp["token"])
}

func TestLoginBadCredentials(t *testing.T) {
	addr, _, _ := startTestServer(t)
	resp := roundTrip(t, addr, map[string]interface{}{
		"action": "login", "username": "user1", "password": "wrong",
	})
	require.Equal(t, "Credenciais inválidas", resp["error"])
}

func TestSubmitTaskRequiresToken(t *testing.T) {
	addr, _, _ := startTestServer(t)
	resp := roundTrip(t, addr, map[string]interface{}{
		"action": "submit_task", "data": map[string]interface{}{"duration": 1},
	})
	require.Equal(t, "Autenticação necessária", resp["error"])
}

func TestSubmitTaskRejectsForgedToken(t *testing.T) {
	addr, _, _ := startTestServer(t)
	resp := roundTrip(t, addr, map[string]interface{}{
		"action": "submit_task", "token": "forged", "data": map[string]interface{}{},
	})
	require.Equal(t, "Token inválido ou expirado", resp["error"])
}

func TestSubmitAndQueryStatus(t *testing.T) {
	addr, _, _ := startTestServer(t)
	login := roundTrip(t, addr, map[string]interface{}{
		"action": "login", "username": "user1", "password": "pass1",
	})
	token := login["token"].(string)

	submit := roundTrip(t, addr, map[string]interface{}{
		"action": "submit_task", "token": token,
		"data": map[string]interface{}{"description": "x", "duration": 1},
	})
	require.Equal(t, "Tarefa recebida", submit["status"])
	taskID := submit["task_id"].(string)
	require.NotEmpty(t, taskID)

	status := roundTrip(t, addr, map[string]interface{}{
		"action": "task_status", "token": token, "task_id": taskID,
	})
	require.Equal(t, "PENDING", status["status"])
	require.Equal(t, taskID, status["id"])
}

func TestLamportTimestampsStrictlyIncrease(t *testing.T) {
	addr, _, _ := startTestServer(t)
	login := roundTrip(t, addr, map[string]interface{}{
		"action": "login", "username": "user1", "password": "pass1",
	})
	token := login["token"].(string)

	var prev float64 = -1
	for i := 0; i < 10; i++ {
		submit := roundTrip(t, addr, map[string]interface{}{
			"action": "submit_task", "token": token,
			"data": map[string]interface{}{"duration": 1},
		})
		taskID := submit["task_id"].(string)

		status := roundTrip(t, addr, map[string]interface{}{
			"action": "task_status", "token": token, "task_id": taskID,
		})
		ts := status["lamport_ts"].(float64)
		require.Greater(t, ts, prev)
		prev = ts
	}
}

func TestTaskStatusUnknownID(t *testing.T) {
	addr, _, _ := startTestServer(t)
	login := roundTrip(t, addr, map[string]interface{}{
		"action": "login", "username": "user1", "password": "pass1",
	})
	token := login["token"].(string)

	status := roundTrip(t, addr, map[string]interface{}{
		"action": "task_status", "token": token, "task_id": "nonexistent",
	})
	require.Equal(t, "Tarefa não encontrada", status["error"])
}
