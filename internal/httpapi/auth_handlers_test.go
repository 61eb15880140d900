package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devicewatch.org/internal/auth"
	"devicewatch.org/internal/ratelimit"
)

const (
	testAccessSecret  = "access-secret-0123456789-0123456789-ab"
	testRefreshSecret = "refresh-secret-0123456789-0123456789-a"
)

// fakeStore is an in-memory auth.Store with the same rotation guard the
// Postgres store enforces.
type fakeStore struct {
	users    *fakeUsers
	sessions *fakeSessions
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    &fakeUsers{byID: make(map[string]*auth.User)},
		sessions: &fakeSessions{byID: make(map[string]*auth.Session)},
	}
}

func (f *fakeStore) Users(context.Context) auth.UserStore       { return f.users }
func (f *fakeStore) Sessions(context.Context) auth.SessionStore { return f.sessions }

type fakeUsers struct {
	byID map[string]*auth.User
}

func (f *fakeUsers) Create(ctx context.Context, u *auth.User) error {
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return auth.ErrAlreadyExists
		}
	}
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) List(ctx context.Context) ([]*auth.User, error) {
	out := make([]*auth.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUsers) UpdatePassword(ctx context.Context, userID, hash string) error {
	u, ok := f.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type fakeSessions struct {
	byID map[string]*auth.Session
}

func (f *fakeSessions) Create(ctx context.Context, s *auth.Session) error {
	f.byID[s.ID] = s
	return nil
}

func (f *fakeSessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) Rotate(ctx context.Context, oldID string, next *auth.Session) error {
	old, ok := f.byID[oldID]
	if !ok || old.ReplacedBy != nil || old.RevokedAt != nil {
		return auth.ErrRotationConflict
	}
	successor := next.ID
	old.ReplacedBy = &successor
	f.byID[next.ID] = next
	return nil
}

func (f *fakeSessions) RevokeLineage(ctx context.Context, lineageID string) error {
	now := time.Now().UTC()
	for _, s := range f.byID {
		if s.LineageID == lineageID && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}

func (f *fakeSessions) RevokeAllForUser(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	for _, s := range f.byID {
		if s.UserID == userID && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}

func (f *fakeSessions) ListActiveByUser(ctx context.Context, userID string) ([]*auth.Session, error) {
	now := time.Now().UTC()
	var out []*auth.Session
	for _, s := range f.byID {
		if s.UserID == userID && s.Active(now) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fixture struct {
	api     *API
	store   *fakeStore
	handler http.Handler
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	codec, err := auth.NewCodec(testAccessSecret, testRefreshSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	store := newFakeStore()
	svc, err := auth.NewService(store, codec, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, store, ReadyProbe{}, "test")
	return &fixture{api: api, store: store, handler: api.Handler()}
}

func (f *fixture) addUser(t *testing.T, email, password string, role auth.Role, scopeID string) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{
		ID:           "user-" + email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       auth.UserStatusActive,
	}
	switch role {
	case auth.RoleFacility:
		u.FacilityID = scopeID
	case auth.RoleManufacturer:
		u.ManufacturerID = scopeID
	}
	if err := f.store.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) login(t *testing.T, email, password string) auth.TokenPair {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: email, Password: password}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(rr.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	return pair
}

func bearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v (%s)", err, rr.Body.String())
	}
	return payload.Code
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/auth/register", registerRequest{
		Email:      "clinic@example.org",
		Password:   "pa55word!",
		Role:       "facility",
		FacilityID: "fac-1",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created auth.User
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if created.PasswordHash != "" {
		t.Fatal("password hash must never appear in responses")
	}

	// Duplicate email conflicts.
	rr = f.do(t, http.MethodPost, "/v1/auth/register", registerRequest{
		Email:      "clinic@example.org",
		Password:   "other",
		Role:       "facility",
		FacilityID: "fac-1",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "clinic@example.org", "pa55word!", auth.RoleFacility, "fac-1")

	pair := f.login(t, "clinic@example.org", "pa55word!")
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens in the response")
	}

	rr := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "clinic@example.org", Password: "nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected code %s", got)
	}

	// Unknown identifier is indistinguishable from a wrong secret.
	rr = f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "nobody@example.org", Password: "nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestRefreshEndpointRotatesAndDetectsReuse(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "maker@example.org", "pa55word!", auth.RoleManufacturer, "man-1")
	pair := f.login(t, "maker@example.org", "pa55word!")

	rr := f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rotated auth.TokenPair
	if err := json.Unmarshal(rr.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode rotated pair: %v", err)
	}

	// Replaying the consumed token kills the lineage.
	rr = f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reuse: expected 401, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "SESSION_REUSE_DETECTED" {
		t.Fatalf("unexpected code %s", got)
	}

	// The rotated descendant is dead too.
	rr = f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("descendant after reuse: expected 401, got %d", rr.Code)
	}
}

func TestLogoutEndpointIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "maker@example.org", "pa55word!", auth.RoleManufacturer, "man-1")
	pair := f.login(t, "maker@example.org", "pa55word!")

	for i := 0; i < 2; i++ {
		rr := f.do(t, http.MethodPost, "/v1/auth/logout", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("logout %d: expected 204, got %d", i, rr.Code)
		}
	}

	rr := f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestPasswordResetEndpointNeverRevealsAccounts(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "clinic@example.org", "pa55word!", auth.RoleFacility, "fac-1")

	for _, email := range []string{"clinic@example.org", "nobody@example.org"} {
		rr := f.do(t, http.MethodPost, "/v1/auth/password_reset", passwordResetRequest{Email: email}, nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d", email, rr.Code)
		}
	}
}

func TestLoginEndpointRateLimited(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)
	f := newFixture(t, auth.WithRateLimiter(denyAll{resetAt: resetAt}))
	f.addUser(t, "clinic@example.org", "pa55word!", auth.RoleFacility, "fac-1")

	rr := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "clinic@example.org", Password: "pa55word!"}, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Limit") != "10" {
		t.Fatalf("unexpected limit header %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if got := errorCode(t, rr); got != "RATE_LIMITED" {
		t.Fatalf("unexpected code %s", got)
	}
}

type denyAll struct{ resetAt time.Time }

func (d denyAll) Check(ctx context.Context, identifier string, action ratelimit.Action) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, Limit: 10, ResetAt: d.resetAt}, nil
}

func TestBodyValidation(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(`{"email": "a@b.c", "bogus": true}`))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/auth/login", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", rr.Header().Get("Allow"))
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}
