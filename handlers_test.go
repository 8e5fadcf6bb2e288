package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/cpacia/matwatch/bracket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type testServer struct {
	s       *Server
	fetcher *fakeFetcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := newTestDB(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&DBCredentials{Username: "admin", PasswordHash: string(hash)}).Error)

	f := newFakeFetcher(t)
	tr := newTestTracker(t, db, f, "08:00")
	s, err := NewServer(db, tr, []byte("test-signing-key"), Options{
		AnalyzeRate: "100-M",
		LoginRate:   "3-H",
		DevMode:     true,
	})
	require.NoError(t, err)
	return &testServer{s: s, fetcher: f}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.s.r.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: defaultAdminPassword})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)
	return resp.Token
}

func TestServer_Login(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	// The limiter trips once the failure count exceeds the limit of 3.
	for i := 0; i < 4; i++ {
		w := ts.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := ts.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: defaultAdminPassword})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestServer_ChangePassword(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(t, http.MethodPost, "/changepw", token, PWChangeRequest{CurrentPassword: "nope", NewPassword: "oss"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/changepw", token, PWChangeRequest{CurrentPassword: defaultAdminPassword, NewPassword: "oss"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: "oss"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_AuthRequired(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/matches/analyze", "", AnalyzeRequest{URL: pageOne})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/refresh", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, ts.fetcher.calls)
}

func TestServer_AnalyzeAndList(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(t, http.MethodGet, "/matches", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/matches/analyze", token, AnalyzeRequest{URL: "  " + pageOne + " "})
	require.Equal(t, http.StatusOK, w.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Matches, 4)
	assert.Len(t, resp.Rows, 4)
	assert.Len(t, resp.Table, 4)
	assert.Equal(t, bracket.KindWinnerPlaceholder, resp.Matches[2].Competitors[0].Kind)

	w = ts.do(t, http.MethodGet, "/matches", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var table bracket.Table
	require.NoError(t, json.NewDecoder(w.Body).Decode(&table))
	require.Len(t, table, 4)
	assert.Equal(t, bracket.CompetitorRow{Number: "3", Name: "Carla", Club: "Z", Location: "Mat 1 - Fight 4", Time: "15:10"}, table[0])

	w = ts.do(t, http.MethodGet, "/sources", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sources []Source
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sources))
	require.Len(t, sources, 1)
	assert.Equal(t, pageOne, sources[0].URL)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/sources/%d/matches", sources[0].ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		URL       string                `json:"url"`
		FetchedAt time.Time             `json:"fetchedAt"`
		Matches   []bracket.MatchRecord `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, pageOne, snap.URL)
	assert.Equal(t, resp.Matches, snap.Matches)
}

func TestServer_AnalyzeErrors(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(t, http.MethodPost, "/matches/analyze", token, AnalyzeRequest{URL: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/matches/analyze", token, AnalyzeRequest{URL: "ftp://example.com/bracket"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/matches/analyze", token, AnalyzeRequest{URL: pageDown})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.do(t, http.MethodGet, "/sources", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestServer_Refresh(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	_, err := addSource(ts.s.db, pageOne)
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var table bracket.Table
	require.NoError(t, json.NewDecoder(w.Body).Decode(&table))
	assert.Len(t, table, 4)
}

func TestServer_SourceMatchesNotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/sources/42/matches", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/sources/abc/matches", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
