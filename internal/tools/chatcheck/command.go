package chatcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/tools/common"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/tools/loadgen"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/tools/ui"
)

type options struct {
	baseURL string
	ci      bool
}

// NewRootCommand returns the chatcheck command: it drives traffic at a
// running instance and verifies the presence and delivery paths end to end
// through the public API, the same way a client would.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "chatcheck", Short: "Verify presence and message delivery end to end"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate traffic and validate presence plus websocket delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			details, err := run(opts, "chatcheck run", func(ctx context.Context) ([]string, error) {
				lgRes, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     "mixed",
					Duration:    5 * time.Second,
					RPS:         20,
					Concurrency: 4,
					Seed:        42,
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("traffic generated total=%d failures=%d", lgRes.TotalRequests, lgRes.Failures)}

				more, err := verifyDelivery(ctx, opts.baseURL)
				details = append(details, more...)
				return details, err
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "chatcheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type account struct {
	id          uint
	accessToken string
}

// verifyDelivery walks the full happy path: two fresh accounts, a websocket
// subscription on a dm channel, a REST send, and a delivered frame.
func verifyDelivery(ctx context.Context, baseURL string) ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	var details []string

	sender, err := createAccount(ctx, client, baseURL)
	if err != nil {
		return details, fmt.Errorf("create sender: %w", err)
	}
	receiver, err := createAccount(ctx, client, baseURL)
	if err != nil {
		return details, fmt.Errorf("create receiver: %w", err)
	}
	details = append(details, "accounts provisioned")

	conversationID := "chk-" + uuid.NewString()[:8]
	wsURL, err := websocketURL(baseURL, receiver.accessToken, "dm:"+conversationID)
	if err != nil {
		return details, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return details, fmt.Errorf("websocket dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// First frame is always the presence snapshot.
	var snapshot struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&snapshot); err != nil {
		return details, fmt.Errorf("read presence snapshot: %w", err)
	}
	if snapshot.Type != "presence" {
		return details, fmt.Errorf("first frame type %q, want presence", snapshot.Type)
	}
	if !contains(snapshot.Users, fmt.Sprint(receiver.id)) {
		return details, fmt.Errorf("receiver missing from presence snapshot %v", snapshot.Users)
	}
	details = append(details, "presence snapshot: ok")

	body, _ := json.Marshal(map[string]any{"recipient_id": receiver.id, "content": "chatcheck probe"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/conversations/"+conversationID+"/messages", bytes.NewReader(body))
	if err != nil {
		return details, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sender.accessToken)
	resp, err := client.Do(req)
	if err != nil {
		return details, fmt.Errorf("send message: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return details, fmt.Errorf("send message status %d", resp.StatusCode)
	}

	// The delivered frame may arrive after interleaved presence events from
	// loadgen traffic.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return details, fmt.Errorf("read delivery frame: %w", err)
		}
		if frame.Type == "dm" && frame.Content == "chatcheck probe" {
			details = append(details, "websocket delivery: ok")
			return details, nil
		}
	}
	return details, fmt.Errorf("message was not delivered within the deadline")
}

func createAccount(ctx context.Context, client *http.Client, baseURL string) (*account, error) {
	email := fmt.Sprintf("chatcheck-%s@example.com", uuid.NewString()[:8])
	password := "Chatcheck#" + uuid.NewString()[:13]

	var registered struct {
		ID uint `json:"id"`
	}
	if err := postJSON(ctx, client, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    email,
		"username": strings.SplitN(email, "@", 2)[0],
		"password": password,
	}, &registered, nil); err != nil {
		return nil, err
	}

	var logged struct {
		AccessToken string `json:"access_token"`
	}
	if err := postJSON(ctx, client, baseURL+"/api/v1/auth/login", map[string]string{
		"email":      email,
		"password":   password,
		"session_id": uuid.NewString(),
	}, &logged, nil); err != nil {
		return nil, err
	}
	return &account{id: registered.ID, accessToken: logged.AccessToken}, nil
}

func postJSON(ctx context.Context, client *http.Client, target string, payload any, out any, headers map[string]string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", target, resp.StatusCode)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func websocketURL(baseURL, token, channel string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", token)
	q.Set("subscribe_to", channel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
