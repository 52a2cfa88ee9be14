package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"confidential-voting-backend/ballot"
	"confidential-voting-backend/repository"
	"confidential-voting-backend/service"
	"confidential-voting-backend/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin   = "0x9999999999999999999999999999999999999999"
	creator = "0x1111111111111111111111111111111111111111"
	voter   = "0x2222222222222222222222222222222222222222"
)

var (
	validHandle = "0x" + strings.Repeat("ab", 32)
	validProof  = "0x" + strings.Repeat("cd", 16)
)

type testEnv struct {
	router *gin.Engine
	store  *service.PollStore
	clock  *testutil.Clock
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	store := service.NewPollStore(repository.NewGormPollRepository(db),
		service.WithAdmins(admin),
		service.WithClock(clock.Now),
		service.WithVerifier(ballot.FormatVerifier{}),
	)

	router := gin.New()
	group := router.Group("/api", RequestID(), Identity())
	NewPollController(store).RegisterRoutes(group)
	NewHealthController(db, nil).RegisterRoutes(group)

	return &testEnv{router: router, store: store, clock: clock}
}

func (e *testEnv) request(method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(IdentityHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPoll duration为0时不传duration_hours
func (e *testEnv) createPoll(t *testing.T, caller string, duration int) uint64 {
	t.Helper()
	req := CreatePollRequest{
		Title:   "Favourite pet?",
		Options: []string{"Cat", "Dog"},
	}
	if duration != 0 {
		req.DurationHours = &duration
	}
	w := e.request(http.MethodPost, "/api/polls", caller, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func vote(option int) map[string]interface{} {
	return map[string]interface{}{"option_index": option, "handle": validHandle, "proof": validProof}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreatePoll(t *testing.T) {
	env := setupEnv(t)

	assert.Equal(t, uint64(0), env.createPoll(t, creator, 1))
	assert.Equal(t, uint64(1), env.createPoll(t, creator, 0))

	w := env.request(http.MethodPost, "/api/polls", "", CreatePollRequest{Title: "T", Options: []string{"a", "b"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Code)

	w = env.request(http.MethodPost, "/api/polls", "not-a-wallet", CreatePollRequest{Title: "T", Options: []string{"a", "b"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/api/polls", creator, CreatePollRequest{Title: " ", Options: []string{"a", "b"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeError(t, w).Code)

	w = env.request(http.MethodGet, "/api/polls/count", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":2}`, w.Body.String())
}

func TestCreatePoll_Duration(t *testing.T) {
	env := setupEnv(t)

	id := env.createPoll(t, creator, 0)
	poll, err := env.store.GetPoll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Unix()+int64(service.DefaultDurationHours)*3600, poll.EndTime)

	for _, body := range []string{
		`{"title":"T","options":["a","b"],"duration_hours":0}`,
		`{"title":"T","options":["a","b"],"duration_hours":-3}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/polls", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdentityHeader, creator)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_input", decodeError(t, w).Code)
	}
}

func TestGetPoll(t *testing.T) {
	env := setupEnv(t)
	id := env.createPoll(t, creator, 1)

	w := env.request(http.MethodPost, "/api/polls/0/vote", voter, vote(0))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(http.MethodGet, "/api/polls/0", strings.ToUpper(voter[:2])+voter[2:], nil)
	require.Equal(t, http.StatusOK, w.Code)

	var poll PollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	assert.Equal(t, id, poll.ID)
	assert.Equal(t, []string{"Cat", "Dog"}, poll.Options)
	assert.Equal(t, []int64{1, 0}, poll.VoteCounts)
	assert.Equal(t, creator, poll.Creator)
	assert.True(t, poll.IsCurrentlyActive)
	require.NotNil(t, poll.HasVoted)
	assert.True(t, *poll.HasVoted)

	w = env.request(http.MethodGet, "/api/polls/0", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	assert.Nil(t, poll.HasVoted)

	w = env.request(http.MethodGet, "/api/polls/7", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Code)

	w = env.request(http.MethodGet, "/api/polls/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVote_StatusCodes(t *testing.T) {
	env := setupEnv(t)
	id := env.createPoll(t, creator, 1)
	require.Equal(t, uint64(0), id)

	tests := []struct {
		name   string
		path   string
		caller string
		body   interface{}
		status int
		code   string
	}{
		{"first vote", "/api/polls/0/vote", voter, vote(1), http.StatusOK, ""},
		{"second vote", "/api/polls/0/vote", voter, vote(0), http.StatusConflict, "already_voted"},
		{"bad option", "/api/polls/0/vote", creator, vote(5), http.StatusBadRequest, "invalid_option"},
		{"missing option", "/api/polls/0/vote", creator, map[string]string{"handle": validHandle}, http.StatusBadRequest, "invalid_input"},
		{"bad ballot", "/api/polls/0/vote", creator, map[string]interface{}{"option_index": 0, "handle": "0x01", "proof": validProof}, http.StatusUnprocessableEntity, "invalid_ballot"},
		{"unknown poll", "/api/polls/3/vote", creator, vote(0), http.StatusNotFound, "not_found"},
		{"no identity", "/api/polls/0/vote", "", vote(0), http.StatusUnauthorized, "unauthenticated"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.request(http.MethodPost, tc.path, tc.caller, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, w).Code)
			}
		})
	}

	env.clock.Advance(time.Hour)
	w := env.request(http.MethodPost, "/api/polls/0/vote", admin, vote(0))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "poll_closed", decodeError(t, w).Code)
}

func TestEndAndDeletePoll(t *testing.T) {
	env := setupEnv(t)
	env.createPoll(t, creator, 1)

	w := env.request(http.MethodPost, "/api/polls/0/end", voter, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decodeError(t, w).Code)

	w = env.request(http.MethodPost, "/api/polls/0/end", creator, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(http.MethodPost, "/api/polls/0/end", creator, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_ended", decodeError(t, w).Code)

	w = env.request(http.MethodDelete, "/api/polls/0", creator, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(http.MethodDelete, "/api/polls/0", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(http.MethodGet, "/api/polls/0", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPollsAndClear(t *testing.T) {
	env := setupEnv(t)
	env.createPoll(t, creator, 1)
	env.createPoll(t, creator, 48)
	env.clock.Advance(2 * time.Hour)

	w := env.request(http.MethodGet, "/api/polls", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list ListPollsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Active, 1)
	require.Len(t, list.Past, 1)
	assert.Equal(t, uint64(1), list.Active[0].ID)
	assert.Equal(t, uint64(0), list.Past[0].ID)
	assert.True(t, list.Past[0].IsActive, "expired but never ended")
	assert.False(t, list.Past[0].IsCurrentlyActive)

	w = env.request(http.MethodDelete, "/api/polls", creator, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(http.MethodDelete, "/api/polls", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(http.MethodGet, "/api/polls", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"active":[],"past":[]}`, w.Body.String())
}

func TestWinnerAndCounts(t *testing.T) {
	env := setupEnv(t)
	env.createPoll(t, creator, 1)

	w := env.request(http.MethodGet, "/api/polls/0/winner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"winning_options":[0,1],"max_votes":0,"has_tie":true}`, w.Body.String())

	require.Equal(t, http.StatusOK, env.request(http.MethodPost, "/api/polls/0/vote", voter, vote(1)).Code)

	w = env.request(http.MethodGet, "/api/polls/0/winner", "", nil)
	assert.JSONEq(t, `{"winning_options":[1],"max_votes":1,"has_tie":false}`, w.Body.String())

	w = env.request(http.MethodGet, "/api/polls/0/options/1/votes", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, w.Body.String())

	w = env.request(http.MethodGet, "/api/polls/0/options/9/votes", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/polls/0/voters/"+voter, "", nil)
	assert.JSONEq(t, `{"has_voted":true}`, w.Body.String())

	w = env.request(http.MethodGet, "/api/polls/0/voters/"+admin, "", nil)
	assert.JSONEq(t, `{"has_voted":false}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)

	w := env.request(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = env.request(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info SystemInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "ok", info.DBStatus)
	assert.Equal(t, "disabled", info.RedisStatus)
}
