package agentstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/reliability"
	"github.com/ent0n29/scribe/internal/transcript"
)

// CLISource runs a local agent CLI in stream-json mode and relays its stdout
// events. The CLI interleaves partial events with a final "result" object
// carrying the authoritative text and tool outcomes.
type CLISource struct {
	binaryPath string
}

func NewCLISource(binaryPath string) *CLISource {
	return &CLISource{binaryPath: strings.TrimSpace(binaryPath)}
}

func (s *CLISource) StreamTurn(ctx context.Context, req TurnRequest, onEvent EventHandler) (TurnResult, error) {
	args := []string{
		"turn",
		"--output-format", "stream-json",
		"--no-color",
		"--session-id", req.ConversationID,
		"--message", req.Prompt,
	}

	cmd := exec.CommandContext(ctx, s.binaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return TurnResult{}, fmt.Errorf("agent cli stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return TurnResult{}, fmt.Errorf("agent cli start: %w", err)
	}

	decoder := &eventDecoder{}
	var result TurnResult
	sawResult := false

	buf := make([]byte, 32*1024)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			for _, objRaw := range decoder.Consume(buf[:n]) {
				res, isResult, err := s.handleObject(objRaw, onEvent)
				if err != nil {
					_ = cmd.Process.Kill()
					_ = cmd.Wait()
					return TurnResult{}, err
				}
				if isResult {
					result = res
					sawResult = true
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = cmd.Wait()
			if ctx.Err() != nil {
				return TurnResult{}, ctx.Err()
			}
			return TurnResult{}, reliability.StreamFailure{Kind: "connection_lost", Err: readErr}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of
			// context cancellation.
			return TurnResult{}, ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return TurnResult{}, fmt.Errorf("agent cli failed: %w: %s", err, errText)
		}
		return TurnResult{}, fmt.Errorf("agent cli failed: %w", err)
	}
	if !sawResult {
		return TurnResult{}, reliability.StreamFailure{Kind: "bad_event", Err: fmt.Errorf("stream ended without a result object")}
	}
	return result, nil
}

func (s *CLISource) handleObject(objRaw []byte, onEvent EventHandler) (TurnResult, bool, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(objRaw, &env); err != nil {
		return TurnResult{}, false, nil
	}
	if env.Type == "result" {
		res, err := parseCLIResult(objRaw)
		if err != nil {
			return TurnResult{}, false, err
		}
		return res, true, nil
	}

	ev, err := protocol.ParseStreamEvent(objRaw)
	if err != nil {
		// A malformed event body is dropped, not fatal; the result object
		// reconciles whatever was missed.
		return TurnResult{}, false, nil
	}
	if onEvent != nil {
		if err := onEvent(ev); err != nil {
			return TurnResult{}, false, err
		}
	}
	return TurnResult{}, false, nil
}

type cliToolOutcome struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input,omitempty"`
	Status   string         `json:"status"`
	Output   string         `json:"output,omitempty"`
	Stdout   string         `json:"stdout,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
	ExitCode *int           `json:"exit_code,omitempty"`
	ParentID string         `json:"parent_tool_use_id,omitempty"`
}

func parseCLIResult(objRaw []byte) (TurnResult, error) {
	var body struct {
		Text      *string          `json:"text"`
		IsError   bool             `json:"is_error"`
		Error     string           `json:"error,omitempty"`
		ToolCalls []cliToolOutcome `json:"tool_calls"`
	}
	if err := json.Unmarshal(objRaw, &body); err != nil {
		return TurnResult{}, reliability.StreamFailure{Kind: "bad_event", Err: fmt.Errorf("decode result object: %w", err)}
	}
	if body.IsError {
		msg := strings.TrimSpace(body.Error)
		if msg == "" {
			msg = "agent reported an error result"
		}
		return TurnResult{}, fmt.Errorf("agent turn failed: %s", msg)
	}

	res := TurnResult{Text: body.Text}
	for _, t := range body.ToolCalls {
		status := transcript.ToolCallStatus(t.Status)
		switch status {
		case transcript.ToolPending, transcript.ToolRunning, transcript.ToolSuccess, transcript.ToolError:
		default:
			status = transcript.ToolSuccess
		}
		res.ToolCalls = append(res.ToolCalls, transcript.ToolCall{
			ID:       t.ID,
			Name:     t.Name,
			Input:    t.Input,
			Status:   status,
			Output:   t.Output,
			Stdout:   t.Stdout,
			Stderr:   t.Stderr,
			ExitCode: t.ExitCode,
			ParentID: t.ParentID,
		})
	}
	return res, nil
}

// eventDecoder reassembles complete JSON objects from arbitrarily torn stdout
// chunks. Non-JSON noise between objects is skipped.
type eventDecoder struct {
	buffer string
}

func (d *eventDecoder) Consume(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	d.buffer += string(chunk)

	var objects [][]byte
	for {
		start := strings.IndexByte(d.buffer, '{')
		if start < 0 {
			if len(d.buffer) > 8192 {
				d.buffer = d.buffer[len(d.buffer)-8192:]
			}
			return objects
		}
		if start > 0 {
			d.buffer = d.buffer[start:]
		}

		end := jsonObjectEndIndex(d.buffer)
		if end < 0 {
			if len(d.buffer) > 4*1024*1024 {
				d.buffer = d.buffer[len(d.buffer)-(2*1024*1024):]
			}
			return objects
		}

		objects = append(objects, []byte(d.buffer[:end+1]))
		d.buffer = d.buffer[end+1:]
	}
}

// jsonObjectEndIndex returns the index of the brace closing the object that
// starts at raw[0], or -1 while the object is still incomplete.
func jsonObjectEndIndex(raw string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
