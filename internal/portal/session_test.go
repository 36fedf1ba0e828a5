package portal_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/portal"
	"github.com/parnexcodes/droppush/internal/portal/portaltest"
)

func TestMain(m *testing.M) {
	logging.Init(false, os.Stderr)
	os.Exit(m.Run())
}

func newSession(t *testing.T, server *portaltest.Server, portalID string) *portal.Session {
	t.Helper()
	base, id, err := portal.ParsePortalURL(server.PortalURL(portalID))
	require.NoError(t, err)
	return portal.NewSession(portal.NewClient(base, 5*time.Second, ""), id)
}

func TestClaim_Success(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_abc", portal.PolicyAutorename, false)

	session := newSession(t, server, "p_abc")
	require.False(t, session.Claimed())

	require.NoError(t, session.Claim(context.Background()))

	assert.True(t, session.Claimed())
	assert.NotEmpty(t, session.Token())
	assert.Equal(t, portal.PolicyAutorename, session.Policy())
	assert.False(t, session.Reusable())
	assert.False(t, session.ExpiresAt().IsZero())
	assert.NotEmpty(t, session.ExpiresAtRaw())
}

func TestClaim_Defaults(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_def", portal.PolicyOverwrite, false)
	server.OmitReusable = true

	session := newSession(t, server, "p_def")
	require.NoError(t, session.Claim(context.Background()))

	assert.Equal(t, portal.PolicyOverwrite, session.Policy())
	assert.True(t, session.Reusable(), "reusable defaults to true when the server omits it")
}

func TestClaim_NotClaimedTwice(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_once", portal.PolicyOverwrite, true)

	session := newSession(t, server, "p_once")
	require.NoError(t, session.Claim(context.Background()))
	token := session.Token()
	require.NoError(t, session.Claim(context.Background()))

	assert.Equal(t, token, session.Token())
	assert.Equal(t, 1, server.CountRequests("/claim"))
}

func TestClaim_UnknownPortal(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()

	session := newSession(t, server, "p_missing")
	err := session.Claim(context.Background())
	require.Error(t, err)

	assert.True(t, errors.Is(err, portal.ErrClaim))
	assert.Equal(t, portal.ErrorTypeNotFound, portal.GetErrorType(err))
	assert.Equal(t, "portal not found", portal.UserMessage(err))
	assert.False(t, session.Claimed())
	assert.Empty(t, session.Token())
}

func TestClaim_NetworkError(t *testing.T) {
	server := portaltest.NewServer()
	session := newSession(t, server, "p_gone")
	server.Close()

	err := session.Claim(context.Background())
	require.Error(t, err)
	assert.Equal(t, portal.ErrorTypeNetwork, portal.GetErrorType(err))
	assert.Equal(t, portal.StageClaim, portal.StageOf(err))
	assert.Equal(t, "network error", portal.UserMessage(err))
	assert.False(t, session.Claimed())
}

func TestCallsBeforeClaim(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_early", portal.PolicyOverwrite, true)
	session := newSession(t, server, "p_early")
	ctx := context.Background()

	_, err := session.Preflight(ctx, []portal.PreflightItem{{Relpath: "a.txt", Size: 1}})
	assert.ErrorIs(t, err, portal.ErrNotClaimed)

	_, err = session.InitUpload(ctx, portal.TransferRequest{UploadID: "u1", Relpath: "a.txt", Size: 1, Policy: portal.PolicyOverwrite})
	assert.ErrorIs(t, err, portal.ErrNotClaimed)

	assert.ErrorIs(t, session.Close(ctx), portal.ErrNotClaimed)
	assert.Empty(t, server.Requests())
}

func TestPreflight_ReportsExistingFiles(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_pre", portal.PolicyOverwrite, true)
	server.PutFile("p_pre", "x.txt", []byte("old"))

	session := newSession(t, server, "p_pre")
	require.NoError(t, session.Claim(context.Background()))

	conflicts, err := session.Preflight(context.Background(), []portal.PreflightItem{
		{Relpath: "x.txt", Size: 10},
		{Relpath: "y.txt", Size: 5},
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "x.txt", conflicts[0].Relpath)
	assert.Equal(t, "exists", conflicts[0].Reason)
}

func TestUploadLifecycle(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_up", portal.PolicyOverwrite, false)

	session := newSession(t, server, "p_up")
	ctx := context.Background()
	require.NoError(t, session.Claim(ctx))

	content := []byte("hello portal")
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	initResp, err := session.InitUpload(ctx, portal.TransferRequest{
		UploadID:       "u_1",
		Relpath:        "docs/hello.txt",
		Size:           int64(len(content)),
		ClientChecksum: &checksum,
		Policy:         portal.PolicyOverwrite,
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/uploads/u_1", initResp.PutURL)

	commit, err := session.PutUpload(ctx, initResp.PutURL, bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "committed", commit.Status)
	assert.Equal(t, "docs/hello.txt", commit.FinalRelpath)
	assert.Equal(t, checksum, commit.ServerSHA256)

	stored, ok := server.File("p_up", "docs/hello.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)

	status, err := session.UploadStatus(ctx, "u_1")
	require.NoError(t, err)
	assert.Equal(t, "committed", status.Status)
	require.NotNil(t, status.FinalRelpath)
	assert.Equal(t, "docs/hello.txt", *status.FinalRelpath)

	require.NoError(t, session.Close(ctx))
	assert.True(t, session.Closed())
	assert.False(t, session.Claimed())
	_, closed := server.PortalState("p_up")
	assert.True(t, closed)
}

func TestPutUpload_ZeroBytes(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_zero", portal.PolicyOverwrite, true)

	session := newSession(t, server, "p_zero")
	ctx := context.Background()
	require.NoError(t, session.Claim(ctx))

	initResp, err := session.InitUpload(ctx, portal.TransferRequest{UploadID: "u_z", Relpath: "empty.txt", Policy: portal.PolicyOverwrite})
	require.NoError(t, err)

	_, err = session.PutUpload(ctx, initResp.PutURL, bytes.NewReader(nil), 0)
	require.NoError(t, err)

	stored, ok := server.File("p_zero", "empty.txt")
	require.True(t, ok)
	assert.Empty(t, stored)
}

func TestPutUpload_FailureIsTransferError(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_fail", portal.PolicyOverwrite, true)
	server.FailPut["bad.bin"] = http.StatusInternalServerError

	session := newSession(t, server, "p_fail")
	ctx := context.Background()
	require.NoError(t, session.Claim(ctx))

	initResp, err := session.InitUpload(ctx, portal.TransferRequest{UploadID: "u_b", Relpath: "bad.bin", Size: 3, Policy: portal.PolicyOverwrite})
	require.NoError(t, err)

	_, err = session.PutUpload(ctx, initResp.PutURL, bytes.NewReader([]byte("abc")), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrTransfer)
	assert.Equal(t, "failed to stream upload", portal.UserMessage(err))
}

func TestPutUpload_RefusesForeignHost(t *testing.T) {
	var hits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer foreign.Close()

	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_host", portal.PolicyOverwrite, true)

	session := newSession(t, server, "p_host")
	ctx := context.Background()
	require.NoError(t, session.Claim(ctx))

	_, err := session.PutUpload(ctx, foreign.URL+"/api/uploads/u_x", bytes.NewReader([]byte("abc")), 3)
	require.Error(t, err)
	assert.Equal(t, int32(0), hits.Load(), "the token never leaves the portal server")
}

func TestClose_FailureUsesStatusText(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_close", portal.PolicyOverwrite, false)
	server.FailClose = http.StatusServiceUnavailable

	session := newSession(t, server, "p_close")
	ctx := context.Background()
	require.NoError(t, session.Claim(ctx))

	err := session.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrClose)
	assert.Equal(t, "Service Unavailable", portal.UserMessage(err))
	assert.True(t, session.Claimed(), "failed close leaves the session claimed")
}

func TestInfo(t *testing.T) {
	server := portaltest.NewServer()
	defer server.Close()
	server.AddPortal("p_info", portal.PolicyAutorename, true)

	session := newSession(t, server, "p_info")
	info, err := session.Info(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "p_info", info.PortalID)
	assert.Equal(t, portal.PolicyAutorename, info.Policy.Default())
	require.NotNil(t, info.Reusable)
	assert.True(t, *info.Reusable)
	assert.False(t, session.Claimed(), "info does not claim")
}

func TestErrorMessage_FromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Portal already claimed"}`))
	}))
	defer srv.Close()

	base, id, err := portal.ParsePortalURL(srv.URL + "/p/p_x")
	require.NoError(t, err)
	session := portal.NewSession(portal.NewClient(base, time.Second, ""), id)

	err = session.Claim(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Portal already claimed", err.Error())
	assert.Equal(t, portal.ErrorTypeConflict, portal.GetErrorType(err))

	var pe *portal.PortalError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusConflict, pe.StatusCode)
}
