// Package daemon implements the long-lived Unix-socket server: one active
// session at a time, newline-delimited JSON in both directions, and
// client-driven cancellation via a concurrent frame monitor.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/conversation"
	"github.com/bastionhost/bastion-agent/internal/dispatch"
	"github.com/bastionhost/bastion-agent/internal/llm"
	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/metrics"
	"github.com/bastionhost/bastion-agent/internal/session"
)

// clientFrame is one line the client sends: either an ordinary turn
// (Message, with an optional Resume on the first frame of a connection) or
// a cancel request (Type == "cancel").
type clientFrame struct {
	Message string `json:"message,omitempty"`
	Resume  string `json:"resume,omitempty"`
	Type    string `json:"type,omitempty"`
}

// serverEvent is one line the server sends.
type serverEvent struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Server owns the socket, the single active-session slot, and the
// collaborators every per-connection conversation.Loop is built from.
type Server struct {
	SocketPath   string
	LLMClient    *llm.Client
	Registry     *dispatch.Registry
	SystemPrompt string
	AgentCfg     config.AgentConfig
	Store        *session.Store
	Logger       *zap.Logger

	mu         sync.Mutex
	activeConn net.Conn
	listener   net.Listener
}

// Start removes any stale socket file, listens, sets rw-rw---- permissions,
// and serves connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.SocketPath), 0750); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0660); err != nil {
		ln.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer os.Remove(s.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// acquireSlot claims the single active-session slot, evicting a detectably
// stale predecessor first. It returns false if another session is live.
func (s *Server) acquireSlot(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeConn != nil && isStale(s.activeConn) {
		s.activeConn.Close()
		s.activeConn = nil
	}
	if s.activeConn != nil {
		return false
	}
	s.activeConn = conn
	metrics.SetActiveSessions(1)
	return true
}

func (s *Server) releaseSlot(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConn == conn {
		s.activeConn = nil
		metrics.SetActiveSessions(0)
	}
}

// isStale probes a connection with a zero-byte write; a write/reader-closed
// error means the peer is gone even though we never got an explicit close.
func isStale(conn net.Conn) bool {
	conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	defer conn.SetWriteDeadline(time.Time{})
	_, err := conn.Write([]byte{})
	return err != nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if !s.acquireSlot(conn) {
		writeEvent(conn, serverEvent{Type: "error", Text: "Another session is active, try again shortly."})
		writeEvent(conn, serverEvent{Type: "done"})
		return
	}
	defer s.releaseSlot(conn)

	writeEvent(conn, serverEvent{Type: "banner", Text: "bastion-agent ready"})

	frames := readFrames(conn)

	loop := conversation.New(s.LLMClient, s.Registry, s.SystemPrompt, s.AgentCfg, s.Logger, session.NewSessionID())

	var sess session.Session
	haveSession := false

	for f := range frames {
		if f.err != nil {
			writeEvent(conn, serverEvent{Type: "error", Text: "malformed request: " + f.err.Error()})
			continue
		}
		frame := f.frame
		if frame.Type == "cancel" {
			continue // no operation in progress to cancel
		}

		if !haveSession {
			sess = s.openSession(loop, frame.Resume, conn)
			haveSession = true
		}

		text := frame.Message
		if text == "/quit" || text == "/exit" {
			writeEvent(conn, serverEvent{Type: "goodbye"})
			log.LogSession(sess.ID, "end")
			return
		}

		s.runTurn(ctx, loop, &sess, text, frames, conn)
	}

	// Disconnected: persist whatever state exists, best-effort.
	if haveSession {
		log.LogSession(sess.ID, "end")
		if len(loop.GetMessages()) > 0 {
			s.saveSession(&sess, loop)
		}
	}
}

func (s *Server) openSession(loop *conversation.Loop, resumeID string, conn net.Conn) session.Session {
	now := time.Now()
	if resumeID == "" {
		sess := session.NewSession(session.NewSessionID(), nil, now)
		log.LogSession(sess.ID, "start")
		return sess
	}

	sess, err := s.Store.Load(resumeID)
	if err != nil {
		writeEvent(conn, serverEvent{Type: "error", Text: "could not resume session " + resumeID + ": " + err.Error()})
		sess = session.NewSession(session.NewSessionID(), nil, now)
		log.LogSession(sess.ID, "start")
		return sess
	}
	loop.RestoreMessages(sess.Messages)
	writeEvent(conn, serverEvent{Type: "info", Text: fmt.Sprintf("Resumed session %s (%d messages)", resumeID, len(sess.Messages))})
	log.LogSession(sess.ID, "resume")
	return sess
}

// runTurn drives one ProcessMessage call, with a frame monitor watching for
// an explicit cancel frame or disconnect (channel close) concurrently.
func (s *Server) runTurn(ctx context.Context, loop *conversation.Loop, sess *session.Session, text string, frames <-chan frameOrErr, conn net.Conn) {
	cancelCh := make(chan struct{})
	var cancelOnce sync.Once
	fireCancel := func() { cancelOnce.Do(func() { close(cancelCh) }) }
	loop.SetCancelEvent(cancelCh)

	opDone := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for {
			select {
			case <-opDone:
				return
			case f, ok := <-frames:
				if !ok {
					fireCancel() // disconnect mid-compute
					return
				}
				if f.err == nil && f.frame.Type == "cancel" {
					fireCancel()
					writeEvent(conn, serverEvent{Type: "info", Text: "cancel acknowledged"})
				}
			}
		}
	}()

	err := loop.ProcessMessage(ctx, text, func(ev conversation.Event) {
		writeEvent(conn, toServerEvent(ev))
	})
	close(opDone)
	<-monitorDone

	s.saveSession(sess, loop)

	if err != nil {
		if _, ok := err.(*conversation.CancelledByUser); ok {
			writeEvent(conn, serverEvent{Type: "cancelled", Text: "operation cancelled"})
		} else {
			writeEvent(conn, serverEvent{Type: "error", Text: err.Error()})
		}
	}
	writeEvent(conn, serverEvent{Type: "done"})
}

func (s *Server) saveSession(sess *session.Session, loop *conversation.Loop) {
	*sess = sess.WithMessages(loop.GetMessages(), time.Now())
	if err := s.Store.Save(*sess); err != nil && s.Logger != nil {
		s.Logger.Warn("session_save_failed", zap.String("id", sess.ID), zap.Error(err))
	}
}

func toServerEvent(ev conversation.Event) serverEvent {
	switch ev.Type {
	case conversation.EventText:
		return serverEvent{Type: "response", Text: ev.Text}
	case conversation.EventToolCall:
		return serverEvent{Type: "tool_call", Tool: ev.Tool, Input: ev.Input}
	case conversation.EventToolResult:
		return serverEvent{Type: "tool_result", Tool: ev.Tool, Result: ev.Result}
	case conversation.EventError:
		return serverEvent{Type: "error", Text: ev.Text}
	default:
		return serverEvent{Type: "info", Text: ev.Text}
	}
}

type frameOrErr struct {
	frame clientFrame
	err   error
}

// readFrames runs a goroutine that scans newline-delimited JSON frames off
// conn, closing the returned channel on EOF or read error.
func readFrames(conn net.Conn) <-chan frameOrErr {
	out := make(chan frameOrErr)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var f clientFrame
			err := json.Unmarshal(line, &f)
			out <- frameOrErr{frame: f, err: err}
		}
	}()
	return out
}

func writeEvent(conn net.Conn, ev serverEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
