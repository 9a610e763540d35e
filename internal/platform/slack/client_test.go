package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// recordingHandler captures dispatched platform events.
type recordingHandler struct {
	messages  []platform.MessageEvent
	reactions []platform.ReactionEvent
}

func (h *recordingHandler) OnMessage(ev platform.MessageEvent)   { h.messages = append(h.messages, ev) }
func (h *recordingHandler) OnReaction(ev platform.ReactionEvent) { h.reactions = append(h.reactions, ev) }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return &Client{
		api:       api,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		botUserID: "BOT",
		allowed:   make(map[string]bool),
		threads:   make(map[string]string),
		users:     make(map[string]string),
	}
}

func TestMessageFilesFetchesAttachmentURLs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.replies" {
			t.Errorf("unexpected API call %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ok": true,
			"messages": [
				{"type": "message", "ts": "171.500", "text": "here you go",
				 "files": [
					{"id": "F1", "url_private_download": "https://files.example/a.png"},
					{"id": "F2", "url_private": "https://files.example/b.txt"}
				 ]}
			],
			"has_more": false
		}`))
	})

	files := c.messageFiles(context.Background(), "C1", "171.500")
	want := []string{"https://files.example/a.png", "https://files.example/b.txt"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestMessageFilesAPIFailureReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	})
	if files := c.messageFiles(context.Background(), "C1", "171.500"); files != nil {
		t.Errorf("files = %v, want nil on API failure", files)
	}
}

func TestDispatchFileShareFetchesFiles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ok": true,
			"messages": [
				{"type": "message", "ts": "171.500",
				 "files": [{"id": "F1", "url_private_download": "https://files.example/a.png"}]}
			],
			"has_more": false
		}`))
	})

	h := &recordingHandler{}
	c.dispatchEvent(context.Background(), slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				SubType:   "file_share",
				Channel:   "C1",
				TimeStamp: "171.500",
				User:      "U1",
				Text:      "see attachment",
			},
		},
	}, h)

	if len(h.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(h.messages))
	}
	ev := h.messages[0]
	if len(ev.Files) != 1 || ev.Files[0] != "https://files.example/a.png" {
		t.Errorf("Files = %v", ev.Files)
	}
	if ev.ThreadID != encodeID("C1", "171.500") {
		t.Errorf("ThreadID = %q", ev.ThreadID)
	}
}

func TestDispatchPlainMessageSkipsFileFetch(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true, "messages": [], "has_more": false}`))
	})

	h := &recordingHandler{}
	c.dispatchEvent(context.Background(), slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				Channel:   "C1",
				TimeStamp: "171.600",
				User:      "U1",
				Text:      "no attachment",
			},
		},
	}, h)

	if called {
		t.Error("plain messages must not hit the Web API")
	}
	if len(h.messages) != 1 || h.messages[0].Files != nil {
		t.Errorf("messages = %+v", h.messages)
	}
}
