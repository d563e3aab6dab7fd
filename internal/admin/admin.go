// Package admin provides the operator-facing HTTP debug surface for a
// treadmillctl process: current connection/session status, a live tail
// of status and telemetry lines, and (opt-in) a raw command box.
package admin

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/trailhead-robotics/treadmillctl/internal/link"
	"github.com/trailhead-robotics/treadmillctl/internal/protocol"
	"github.com/trailhead-robotics/treadmillctl/internal/treadmill"
)

//go:embed templates/*
var templateFS embed.FS

var (
	statusTemplate      = template.Must(template.ParseFS(templateFS, "templates/status.html.tmpl"))
	sendCommandTemplate = template.Must(template.ParseFS(templateFS, "templates/send-command.html.tmpl"))
)

// Server attaches debug routes for a single Controller/Link pair to an
// *http.ServeMux. It is not itself an HTTP server: the caller supplies
// the mux and calls http.ListenAndServe (or similar) separately.
type Server struct {
	controller *treadmill.Controller
	link       link.Link

	allowRawWrite bool

	subMu       sync.Mutex
	subscribers map[string]chan string

	lastMu  sync.Mutex
	lastMsg string
}

// New returns a Server wired to controller and l. It installs its own
// status and telemetry sinks on controller to feed the live tail
// stream, replacing whatever sinks were previously set.
func New(controller *treadmill.Controller, l link.Link, allowRawWrite bool) *Server {
	s := &Server{
		controller:    controller,
		link:          l,
		allowRawWrite: allowRawWrite,
		subscribers:   make(map[string]chan string),
	}
	controller.SetStatusSink(func(msg string) {
		s.remember(msg)
		s.broadcast("status: " + msg)
	})
	controller.SetTelemetrySink(func(f protocol.TelemetryFrame) {
		s.broadcast(formatTelemetry(f))
	})
	return s
}

func formatTelemetry(f protocol.TelemetryFrame) string {
	return fmt.Sprintf(
		"telemetry: t=%dms target=(%.1f,%.1f) actual=(%.1f,%.1f) healthy=(%t,%t) estop=%t active=%t",
		f.TimestampMs, f.TargetRPMLeft, f.TargetRPMRight, f.ActualRPMLeft, f.ActualRPMRight,
		f.DriverLeftHealthy, f.DriverRightHealthy, f.EmergencyStop, f.ProfileActive,
	)
}

func (s *Server) remember(msg string) {
	s.lastMu.Lock()
	s.lastMsg = msg
	s.lastMu.Unlock()
}

func (s *Server) lastStatus() string {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastMsg
}

func (s *Server) subscribe() (string, chan string) {
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	ch := make(chan string)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

func (s *Server) unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Server) broadcast(line string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// Subscriber is slow to drain; drop rather than block the
			// controller's event loop.
		}
	}
}

type statusView struct {
	Connected       bool
	HeartbeatActive bool
	SessionID       string
	LastStatus      string
	DecodeErrors    uint64
	Telemetry       []protocol.TelemetryFrame
}

// AttachRoutes registers the debug routes on mux, under /debug/treadmill/:
// a tsweb.Debugger-backed status page, an SSE tail, and (when
// allowRawWrite is set at construction) a raw command POST endpoint.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("treadmill/status", "current treadmill connection and session status", func(w http.ResponseWriter, r *http.Request) {
		view := statusView{
			Connected:       s.controller.IsConnected(),
			HeartbeatActive: s.controller.IsHeartbeatActive(),
			SessionID:       s.controller.CurrentSessionID(),
			LastStatus:      s.lastStatus(),
			DecodeErrors:    s.controller.DecodeErrorCount(),
			Telemetry:       s.controller.RecentTelemetry(),
		}
		buf := bytes.NewBuffer(nil)
		if err := statusTemplate.Execute(buf, view); err != nil {
			http.Error(w, "failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("treadmill/tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.subscribe()
		defer s.unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	if !s.allowRawWrite {
		return
	}

	debug.HandleFunc("treadmill/command", "send a raw protocol line (bench debugging)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			buf := bytes.NewBuffer(nil)
			if err := sendCommandTemplate.Execute(buf, nil); err != nil {
				http.Error(w, "failed to render template", http.StatusInternalServerError)
				return
			}
			io.Copy(w, buf)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		line := strings.TrimSpace(r.FormValue("line"))
		if line == "" {
			http.Error(w, "missing line", http.StatusBadRequest)
			return
		}
		if err := s.link.WriteLine(line); err != nil {
			http.Error(w, "failed to write line", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("wrote %q to link\n", line))
	})
}
