package display

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andresmejia3/facegrid/internal/matcher"
	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/telemetry"
	"github.com/andresmejia3/facegrid/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSink struct {
	frames, telemetry, statuses int
}

func (c *countingSink) Render(int, processor.AnnotatedFrame)    { c.frames++ }
func (c *countingSink) UpdateTelemetry(telemetry.Kind, float64) { c.telemetry++ }
func (c *countingSink) StreamStatus(Status)                     { c.statuses++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b, Discard{}}
	m.Render(0, processor.AnnotatedFrame{})
	m.UpdateTelemetry(telemetry.FPS, 12)
	m.StreamStatus(Status{Slot: 1})

	for _, s := range []*countingSink{a, b} {
		if s.frames != 1 || s.telemetry != 1 || s.statuses != 1 {
			t.Errorf("sink got %+v, want one of each", *s)
		}
	}
}

func TestDirSinkWritesLatestFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d, err := NewDirSink(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	d.Render(2, processor.AnnotatedFrame{Image: []byte("first")})
	d.Render(2, processor.AnnotatedFrame{Image: []byte("second")})
	d.Render(3, processor.AnnotatedFrame{})

	got, err := os.ReadFile(filepath.Join(dir, "stream_2.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("stream_2.jpg = %q, want latest frame", got)
	}
	if _, err := os.Stat(d.FramePath(3)); !os.IsNotExist(err) {
		t.Error("empty frames should not be written")
	}
}

func TestLogSinkSamplesFrames(t *testing.T) {
	var sb strings.Builder
	l := NewLogSink(slog.New(slog.NewTextHandler(&sb, nil)), 3)

	l.StreamStatus(Status{Slot: 0, Path: "a.mp4", State: "running"})
	for i := 0; i < 7; i++ {
		l.Render(0, processor.AnnotatedFrame{Seq: uint64(i)})
	}
	l.StreamStatus(Status{Slot: 0, Path: "a.mp4", State: "ended", Error: "boom"})

	out := sb.String()
	if n := strings.Count(out, "msg=frame"); n != 2 {
		t.Errorf("logged %d frames, want 2:\n%s", n, out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "error=boom") {
		t.Errorf("failed stream should log a warning:\n%s", out)
	}
}

func TestHubEndpoints(t *testing.T) {
	h := NewHub(quietLogger())
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	h.StreamStatus(Status{Slot: 1, Path: "b.mp4", State: "running"})
	h.UpdateTelemetry(telemetry.Accuracy, 75)
	h.Render(1, processor.AnnotatedFrame{Image: []byte{0xFF, 0xD8, 0xFF, 0xD9}})

	tests := []struct {
		path     string
		code     int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/status", http.StatusOK, `"path":"b.mp4"`},
		{"/telemetry", http.StatusOK, `"accuracy":75`},
		{"/snapshot/1", http.StatusOK, "\xff\xd8"},
		{"/snapshot/0", http.StatusNotFound, ""},
		{"/snapshot/x", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body %q does not contain %q", body, tt.contains)
			}
		})
	}
}

func TestHubBroadcastsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(quietLogger())
	go h.broadcast(ctx)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	h.StreamStatus(Status{Slot: 0, Path: "a.mp4", State: "running"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "status" || msg.Status == nil || msg.Status.Path != "a.mp4" {
		t.Fatalf("first message = %+v, want current status", msg)
	}

	h.Render(0, processor.AnnotatedFrame{
		Seq:   7,
		Image: []byte("jpeg"),
		Results: []matcher.Result{{
			Detection: types.Detection{Box: types.BBox{Top: 1, Right: 9, Bottom: 9, Left: 1}},
			Identity:  matcher.Known("alice"),
			Votes:     2,
		}},
	})

	raw := readRaw(t, conn, &msg)
	if !strings.Contains(raw, `"slot":0`) {
		t.Errorf("frame for slot 0 must carry its slot: %s", raw)
	}
	if msg.Type != "frame" || msg.Seq != 7 || string(msg.Image) != "jpeg" {
		t.Fatalf("frame message = %+v", msg)
	}
	if len(msg.Faces) != 1 || msg.Faces[0].Name != "alice" || !msg.Faces[0].Known || msg.Faces[0].Right != 9 {
		t.Errorf("faces = %+v", msg.Faces)
	}

	h.UpdateTelemetry(telemetry.Accuracy, 0)
	msg = Message{}
	raw = readRaw(t, conn, &msg)
	if msg.Type != "telemetry" || msg.Kind != "accuracy" || !strings.Contains(raw, `"value":0`) {
		t.Errorf("zero accuracy reading lost: %s", raw)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn, msg *Message) string {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		t.Fatal(err)
	}
	return string(data)
}
