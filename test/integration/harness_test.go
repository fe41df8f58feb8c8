package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/health"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/handler"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/router"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/realtime"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newChatTestServer wires the full stack against sqlite and miniredis and
// serves it over httptest.
func newChatTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.DirectMessage{}, &domain.RoomMessage{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	tokens := security.NewTokenManager("iss", "aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
		15*time.Minute, time.Hour)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	messages := repository.NewMessageRepository(db)

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := realtime.NewRedisRelay(redisClient)
	presence := realtime.NewPresenceManager(realtime.NewRedisPresenceStore(redisClient), relay, testLogger)

	gate := service.NewAuthGate(tokens, sessions)
	authService := service.NewAuthService(tokens, users, sessions)
	messageService := service.NewMessageService(messages, relay, 2, time.Millisecond)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authService, gate),
		MessageHandler:   handler.NewMessageHandler(messageService),
		WSHandler:        handler.NewWSHandler(gate, presence, relay, testLogger),
		Gate:             gate,
		AuthRateLimitRPM: 10000,
		Readiness: health.NewProbeRunner(time.Second, 0,
			health.NewDatabaseChecker(db),
			health.NewRedisChecker(redisClient),
		),
	})

	srv := httptest.NewServer(h)
	return srv.URL, srv.Client(), srv.Close
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

type testAccount struct {
	userID       uint
	email        string
	password     string
	sessionID    string
	accessToken  string
	refreshToken string
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL, email string) *testAccount {
	t.Helper()
	acc := &testAccount{
		email:     email,
		password:  "Valid#Pass1234",
		sessionID: uuid.NewString(),
	}
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    email,
		"username": strings.SplitN(email, "@", 2)[0],
		"password": acc.password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var registered struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &registered); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	acc.userID = registered.ID

	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email":      acc.email,
		"password":   acc.password,
		"session_id": acc.sessionID,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var logged struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Data, &logged); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	acc.accessToken = logged.AccessToken
	acc.refreshToken = resp.Header.Get(handler.RefreshTokenHeader)
	if acc.accessToken == "" || acc.refreshToken == "" {
		t.Fatal("login must return both tokens")
	}
	return acc
}

func websocketURL(t *testing.T, baseURL, token string, channels ...string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", token)
	if len(channels) > 0 {
		q.Set("subscribe_to", strings.Join(channels, ","))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
