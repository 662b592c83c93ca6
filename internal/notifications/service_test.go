package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"autovideo/internal/config"
	"autovideo/internal/notifications"
)

type capture struct {
	mu       sync.Mutex
	title    string
	body     string
	tags     string
	priority string
	hits     int
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.hits++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.body = string(body)
		got.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{"runID": "r1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("nil config notifier: %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:        "completed",
			event:       notifications.EventRunCompleted,
			payload:     notifications.Payload{"runID": "ep-1", "duration": "42s"},
			expectTitle: "autovideo - Run Complete",
			expectBody:  "Run ep-1 completed in 42s",
			expectTags:  "autovideo,run,completed",
		},
		{
			name:           "failed",
			event:          notifications.EventRunFailed,
			payload:        notifications.Payload{"runID": "ep-2", "stage": "script", "error": "quota exhausted"},
			expectTitle:    "autovideo - Run Failed",
			expectBody:     "Run ep-2 failed at script: quota exhausted",
			expectTags:     "autovideo,run,failed",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "autovideo - Test",
			expectBody:     "Notification system test",
			expectTags:     "autovideo,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newNtfyServer(t, http.StatusOK)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tt.event, tt.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			got.mu.Lock()
			defer got.mu.Unlock()
			if got.title != tt.expectTitle {
				t.Fatalf("title = %q, want %q", got.title, tt.expectTitle)
			}
			if got.body != tt.expectBody {
				t.Fatalf("body = %q, want %q", got.body, tt.expectBody)
			}
			if got.tags != tt.expectTags {
				t.Fatalf("tags = %q, want %q", got.tags, tt.expectTags)
			}
			if got.priority != tt.expectPriority {
				t.Fatalf("priority = %q, want %q", got.priority, tt.expectPriority)
			}
		})
	}
}

func TestNtfyServiceSkipsDisabledEvents(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.NotifyCompleted = false
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{"runID": "r"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got.mu.Lock()
	defer got.mu.Unlock()
	if got.hits != 0 {
		t.Fatalf("expected no request for disabled event, got %d", got.hits)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestNtfyServiceRejectsUnknownEvent(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.Event("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
