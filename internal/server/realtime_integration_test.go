package server_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
)

type sseFrame struct {
	event string
	data  string
}

// readFrames pumps SSE frames from the response body onto a channel.
func readFrames(t *testing.T, response *http.Response) <-chan sseFrame {
	t.Helper()
	frames := make(chan sseFrame, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(response.Body)
		current := sseFrame{}
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, "event:"):
				current.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && current.event != "":
				frames <- current
				current = sseFrame{}
			}
		}
	}()
	return frames
}

func waitForFrame(t *testing.T, frames <-chan sseFrame, event string) sseFrame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", event)
		case frame, ok := <-frames:
			if !ok {
				t.Fatalf("stream closed before %q event", event)
			}
			if frame.event == event {
				return frame
			}
		}
	}
}

func TestRealtimeStreamEmitsCommentEvents(t *testing.T) {
	h := newHarness(t)
	authorToken := h.token(t, "author-1", auth.RoleAuthor, "")
	aliceToken := h.token(t, "alice", auth.RoleUser, "")

	var project reader.ProjectView
	if status := h.call(t, http.MethodPost, "/projects", authorToken, map[string]any{"slug": "transit", "title": "Transit"}, &project); status != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", status)
	}
	if status := h.call(t, http.MethodPost, "/projects/"+project.ID+"/publish", authorToken, nil, nil); status != http.StatusOK {
		t.Fatalf("unexpected publish status: %d", status)
	}

	streamRequest, err := http.NewRequest(http.MethodGet, h.server.URL+"/events?access_token="+authorToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	frames := readFrames(t, streamResp)
	waitForFrame(t, frames, "ready")

	var comment struct {
		ID string `json:"id"`
	}
	if status := h.call(t, http.MethodPost, "/projects/"+project.ID+"/comments", aliceToken, map[string]any{"text": "more buses"}, &comment); status != http.StatusCreated {
		t.Fatalf("unexpected comment status: %d", status)
	}

	frame := waitForFrame(t, frames, string(notify.EventCommentCreated))
	var event notify.Event
	if err := json.Unmarshal([]byte(frame.data), &event); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if event.CommentID != comment.ID || event.RecipientID != "author-1" || event.ActorID != "alice" {
		t.Fatalf("unexpected event payload: %#v", event)
	}
}

func TestRealtimeStreamRequiresSession(t *testing.T) {
	h := newHarness(t)
	response, err := http.Get(h.server.URL + "/events")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusUnauthorized)
	}
}

func TestRealtimeProjectStreamAcceptsSlug(t *testing.T) {
	h := newHarness(t)
	authorToken := h.token(t, "author-1", auth.RoleAuthor, "")
	aliceToken := h.token(t, "alice", auth.RoleUser, "")

	var project reader.ProjectView
	if status := h.call(t, http.MethodPost, "/projects", authorToken, map[string]any{"slug": "harbour", "title": "Harbour"}, &project); status != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", status)
	}
	if status := h.call(t, http.MethodPost, "/projects/"+project.ID+"/publish", authorToken, nil, nil); status != http.StatusOK {
		t.Fatalf("unexpected publish status: %d", status)
	}

	streamResp, err := http.Get(h.server.URL + "/events?projectId=harbour&access_token=" + aliceToken)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	frames := readFrames(t, streamResp)
	waitForFrame(t, frames, "ready")

	status := h.call(t, http.MethodPost, "/projects/"+project.ID+"/versions", authorToken, map[string]any{
		"baseVersion": 1,
		"articles":    []map[string]any{},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("unexpected cut status: %d", status)
	}

	frame := waitForFrame(t, frames, string(notify.EventVersionCut))
	var event notify.Event
	if err := json.Unmarshal([]byte(frame.data), &event); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if event.ProjectID != project.ID || event.Version != 2 {
		t.Fatalf("unexpected event payload: %#v", event)
	}
}
