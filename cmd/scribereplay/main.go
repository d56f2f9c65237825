package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/scribe/internal/protocol"
)

type options struct {
	baseURL        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	prompts        []string
	verbose        bool
}

type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

var defaultPrompts = []string{
	"Summarize the current latency picture in one sentence.",
	"Which stage dominates turn time right now?",
	"Name one optimization worth trying next.",
	"Any risk in shipping the change this week?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribereplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "scribereplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var promptsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "scribe base URL")
	flag.IntVar(&cfg.turns, "turns", 4, "number of turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for turn_end per turn in milliseconds")
	flag.StringVar(&promptsRaw, "prompts", "", "prompts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print streamed segments")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.prompts = splitPrompts(promptsRaw)
	if len(cfg.prompts) == 0 {
		cfg.prompts = append([]string(nil), defaultPrompts...)
	}
	return cfg, nil
}

func splitPrompts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	conversationID, err := createConversation(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	defer func() {
		_ = endConversation(context.Background(), httpClient, cfg.baseURL, conversationID)
	}()

	if cfg.verbose {
		fmt.Printf("scribereplay: conversation=%s turns=%d\n", conversationID, cfg.turns)
	}

	wsURL, err := wsURLForConversation(cfg.baseURL, conversationID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	turnEndCh := make(chan string, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, turnEndCh, readErrCh, cfg.verbose)

	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		prompt := cfg.prompts[i%len(cfg.prompts)]
		if cfg.verbose {
			fmt.Printf("scribereplay: turn %d/%d prompt=%q\n", i+1, cfg.turns, prompt)
		}

		if err := postMessage(ctx, httpClient, cfg.baseURL, conversationID, prompt); err != nil {
			return fmt.Errorf("turn %d send message: %w", i+1, err)
		}
		reason, err := awaitTurnEnd(turnEndCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await turn_end: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("scribereplay: turn %d/%d ended reason=%s\n", i+1, cfg.turns, reason)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if cfg.verbose {
		fmt.Println("scribereplay: replay completed")
	}
	return nil
}

func createConversation(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/conversations", bytes.NewReader([]byte(`{"activate":true}`)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createConversationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		return "", fmt.Errorf("missing conversation_id in response")
	}
	return out.ConversationID, nil
}

func endConversation(ctx context.Context, client *http.Client, baseURL, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/conversations/"+url.PathEscape(conversationID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func postMessage(ctx context.Context, client *http.Client, baseURL, conversationID, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/conversations/"+url.PathEscape(conversationID)+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func wsURLForConversation(baseURL, conversationID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversations/ws"
	q := u.Query()
	q.Set("conversation_id", conversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, turnEndCh chan<- string, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeSegmentUpsert:
			if !verbose {
				continue
			}
			var msg protocol.SegmentUpsert
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			printSegment(msg.Segment)
		case protocol.TypeSegmentRemove:
			if verbose {
				var msg protocol.SegmentRemove
				if err := json.Unmarshal(data, &msg); err == nil {
					fmt.Printf("  segment %s removed\n", msg.SegmentID)
				}
			}
		case protocol.TypeTurnEnd:
			var msg protocol.TurnEnd
			reason := "unknown"
			if err := json.Unmarshal(data, &msg); err == nil {
				reason = msg.Reason
			}
			select {
			case turnEndCh <- reason:
			default:
			}
		case protocol.TypeErrorEvent:
			if verbose {
				var msg protocol.ErrorEvent
				if err := json.Unmarshal(data, &msg); err == nil {
					fmt.Fprintf(os.Stderr, "scribereplay: error_event code=%s detail=%s\n", msg.Code, msg.Detail)
				}
			}
		}
	}
}

func printSegment(seg protocol.SegmentPayload) {
	marker := "final"
	if seg.IsStreaming {
		marker = "streaming"
	}
	fmt.Printf("  [%s] %s %s: %s\n", marker, seg.ID, seg.Role, truncate(seg.Content, 80))
	for _, call := range seg.ToolCalls {
		fmt.Printf("    tool %s %s status=%s\n", call.ID, call.Name, call.Status)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func awaitTurnEnd(turnEndCh <-chan string, readErrCh <-chan error, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reason := <-turnEndCh:
		return reason, nil
	case err := <-readErrCh:
		return "", err
	case <-timer.C:
		return "", fmt.Errorf("timeout after %s", timeout)
	}
}
