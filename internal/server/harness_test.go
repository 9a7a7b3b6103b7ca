package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/database/databasetest"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/server"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var signingSecret = []byte("test-signing-secret")

type harness struct {
	server *httptest.Server
	tokens *auth.TokenIssuer
	fanout *notify.Fanout
}

func newHarness(t *testing.T) harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := databasetest.Open(t)
	logger := zap.NewNop()

	dispatcher := notify.NewDispatcher()
	fanout := notify.NewFanout(logger, dispatcher)
	t.Cleanup(fanout.Wait)

	ledger, err := engagement.NewLedger(engagement.LedgerConfig{
		Database:   db,
		IDProvider: &databasetest.SequentialIDs{Prefix: "like"},
		Logger:     logger,
	})
	require.NoError(t, err)
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	projectService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		IDProvider: &databasetest.SequentialIDs{Prefix: "obj"},
		Notifier:   fanout,
		Logger:     logger,
	})
	require.NoError(t, err)
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		IDProvider: &databasetest.SequentialIDs{Prefix: "cmt"},
		Ledger:     ledger,
		Notifier:   fanout,
		Logger:     logger,
	})
	require.NoError(t, err)
	resolver, err := reader.NewResolver(reader.Config{Database: db, Ledger: ledger, Logger: logger})
	require.NoError(t, err)

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: signingSecret,
		CookieName:    "agora_session",
	})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: signingSecret, TokenTTL: time.Hour})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessions,
		Users:    userService,
		Projects: projectService,
		Comments: commentService,
		Reader:   resolver,
		Realtime: dispatcher,
		Logger:   logger,
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return harness{server: httpServer, tokens: tokens, fanout: fanout}
}

func (h harness) token(t *testing.T, userID string, role auth.Role, country string) string {
	t.Helper()
	token, _, err := h.tokens.IssueSessionToken(auth.SessionIdentity{UserID: userID, Role: role, CountryCode: country})
	require.NoError(t, err)
	return token
}

// call sends a JSON request and decodes the JSON response into out when non-nil.
func (h harness) call(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, h.server.URL+path, payload)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return response.StatusCode
}
