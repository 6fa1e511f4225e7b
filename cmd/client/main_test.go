package main

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distask/internal/wire"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestSaveAndLoadToken(t *testing.T) {
	chdirTemp(t)

	got, err := loadToken()
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, saveToken("abc123"))
	got, err = loadToken()
	require.NoError(t, err)
	require.Equal(t, "abc123", got)
}

func TestCapitalize(t *testing.T) {
	require.Equal(t, "", capitalize(""))
	require.Equal(t, "Status", capitalize("status"))
}

func startFakeOrchestrator(t *testing.T, handler func(req wire.ClientRequest) interface{}) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				var req wire.ClientRequest
				_ = json.Unmarshal(buf[:n], &req)
				resp := handler(req)
				data, _ := json.Marshal(resp)
				_, _ = conn.Write(data)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRunLoginSavesToken(t *testing.T) {
	chdirTemp(t)
	addr := startFakeOrchestrator(t, func(req wire.ClientRequest) interface{} {
		require.Equal(t, wire.ActionLogin, req.Action)
		return wire.ClientResponse{Token: "tok-xyz"}
	})

	runLogin([]string{"user1", "pass1"}, addr)

	got, err := loadToken()
	require.NoError(t, err)
	require.Equal(t, "tok-xyz", got)
}

func TestRunSubmitRequiresToken(t *testing.T) {
	chdirTemp(t)
	called := false
	addr := startFakeOrchestrator(t, func(req wire.ClientRequest) interface{} {
		called = true
		return wire.ClientResponse{TaskID: "t1"}
	})

	runSubmit([]string{"do a thing"}, addr)
	require.False(t, called)
}

func TestRunSubmitSendsTask(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, saveToken("tok-xyz"))

	addr := startFakeOrchestrator(t, func(req wire.ClientRequest) interface{} {
		require.Equal(t, wire.ActionSubmitTask, req.Action)
		require.Equal(t, "tok-xyz", req.Token)
		require.Equal(t, "do a thing", req.Data["description"])
		return wire.ClientResponse{TaskID: "t42"}
	})

	runSubmit([]string{"do a thing"}, addr)
}

func TestRunStatusPrintsTaskFields(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, saveToken("tok-xyz"))

	addr := startFakeOrchestrator(t, func(req wire.ClientRequest) interface{} {
		require.Equal(t, wire.ActionTaskStatus, req.Action)
		require.Equal(t, "t42", req.TaskID)
		return map[string]interface{}{"id": "t42", "status": "PENDING"}
	})

	runStatus([]string{"t42"}, addr)
}

func TestTokenFileName(t *testing.T) {
	require.Equal(t, ".api_token", filepath.Base(tokenFile))
}
