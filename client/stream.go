package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// StreamEvent is one item of a streaming response on the client side: an
// event, or the error that ended the stream.
type StreamEvent struct {
	Event a2a.Event
	Err   error
}

// sseMaxBufferSize bounds a single SSE event payload.
const sseMaxBufferSize = 1 << 20

// sseFrame is one decoded SSE record.
type sseFrame struct {
	event string
	data  []byte
}

// readSSE consumes the response body as an SSE stream and emits decoded
// frames. The returned channel closes on EOF or read error; a read error is
// delivered as a frame with event "stream-error".
func readSSE(ctx context.Context, body io.ReadCloser, logger *zap.Logger) <-chan sseFrame {
	frames := make(chan sseFrame, 10)
	reader := sse.NewEventStreamReader(body, sseMaxBufferSize)

	go func() {
		defer close(frames)
		defer body.Close()
		for {
			raw, err := reader.ReadEvent()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					logger.Warn("SSE stream read failed", zap.Error(err))
					select {
					case frames <- sseFrame{event: "stream-error", data: []byte(err.Error())}:
					case <-ctx.Done():
					}
				}
				return
			}
			frame, ok := parseSSEFrame(raw)
			if !ok {
				continue // comment or keepalive
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// parseSSEFrame extracts the event and data fields from one raw SSE record.
func parseSSEFrame(raw []byte) (sseFrame, bool) {
	var frame sseFrame
	var data bytes.Buffer
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))))
		case bytes.HasPrefix(line, []byte("event:")):
			frame.event = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("event:"))))
		}
		// id: and retry: fields are not needed by this client.
	}
	if data.Len() == 0 {
		return frame, false
	}
	frame.data = data.Bytes()
	return frame, true
}

// streamRequest POSTs body and validates that the response is an SSE stream.
func streamRequest(ctx context.Context, httpClient *http.Client, url string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if protoErr := decodeErrorBody(payload); protoErr != nil {
			return nil, protoErr
		}
		return nil, errors.New("streaming request failed: " + resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !bytes.HasPrefix([]byte(contentType), []byte("text/event-stream")) {
		resp.Body.Close()
		return nil, errors.New("expected text/event-stream response, got " + contentType)
	}
	return resp, nil
}
