package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/als-computing/splash-server/internal/compounds"
	"github.com/als-computing/splash-server/internal/oidc"
	"github.com/als-computing/splash-server/internal/pages"
	"github.com/als-computing/splash-server/internal/references"
	"github.com/als-computing/splash-server/internal/store"
	"github.com/als-computing/splash-server/internal/teams"
	"github.com/als-computing/splash-server/internal/tokens"
	"github.com/als-computing/splash-server/internal/users"
	"github.com/als-computing/splash-server/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t        *testing.T
	engine   *gin.Engine
	services Services
	issuer   *tokens.Issuer
	token    string
	userUID  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	var s Services
	var err error
	s.Teams, err = teams.NewService(ctx, store.NewMemoryCollection(teams.CollectionName))
	require.NoError(t, err)
	s.Pages, err = pages.NewService(ctx, store.NewMemoryCollection(pages.CollectionName), store.NewMemoryCollection(pages.HistoryCollectionName))
	require.NoError(t, err)
	s.References, err = references.NewService(ctx, store.NewMemoryCollection(references.CollectionName))
	require.NoError(t, err)
	s.Users, err = users.NewService(ctx, store.NewMemoryCollection(users.CollectionName))
	require.NoError(t, err)
	s.Compounds, err = compounds.NewService(ctx, store.NewMemoryCollection(compounds.CollectionName))
	require.NoError(t, err)

	ack, err := s.Users.Create(ctx, nil, users.NewUser{
		GivenName:  "Galadriel",
		FamilyName: "of Lorien",
		Email:      "galadriel@lorien.me",
		Authenticators: []users.Authenticator{
			{Issuer: "accounts.google.com", Email: "galadriel@lorien.me", Subject: "g-7"},
		},
	})
	require.NoError(t, err)

	iss := tokens.NewIssuer("handlers-test-secret-xxxxxxxxxxxxxxx", 10*time.Minute)
	tok, err := iss.Issue(ack.UID)
	require.NoError(t, err)

	rev := tokens.NewMemoryRevocations()
	auth := NewAuthHandler(oidc.Providers{"google": oidc.NewInsecureVerifier()}, s.Users, iss, rev)

	g := gin.New()
	public := g.Group("/api/v1")
	auth.RegisterPublic(public)
	protected := g.Group("/api/v1", middleware.AuthMiddleware(iss, rev, s.Users))
	auth.RegisterProtected(protected)
	RegisterResources(protected, s)

	return &testServer{t: t, engine: g, services: s, issuer: iss, token: tok, userUID: ack.UID}
}

func (ts *testServer) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(ts.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type ackBody struct {
	UID      string `json:"uid"`
	Metadata struct {
		Etag     string `json:"etag"`
		Version  *int   `json:"version"`
		Archived *bool  `json:"archived"`
		Creator  string `json:"creator"`
	} `json:"splash_md"`
}

type errBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Etag    string                 `json:"etag"`
	Meta    map[string]interface{} `json:"splash_md"`
}
