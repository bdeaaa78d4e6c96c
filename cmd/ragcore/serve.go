package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragcore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /v1/chat as a Server-Sent Events stream",
	RunE:  runServe,
}

// historyLimit bounds how many stored messages seed a continued conversation.
const historyLimit = 50

// chatRequest is the body of POST /v1/chat. Either Message or Messages
// must be set; Message is appended after Messages.
type chatRequest struct {
	ConversationID string                    `json:"conversation_id"`
	Message        string                    `json:"message"`
	Messages       []ragcore.ChatMessage     `json:"messages"`
	ToolDefaults   map[string]map[string]any `json:"tool_defaults"`
}

// server exposes an agent over HTTP.
type server struct {
	agent   ragcore.StreamingAgent
	history ragcore.ConversationStore
	logger  *slog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" && len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "message or messages is required")
		return
	}

	ctx := r.Context()
	incoming := append([]ragcore.ChatMessage(nil), req.Messages...)
	if req.Message != "" {
		incoming = append(incoming, ragcore.UserMessage(req.Message))
	}

	task := ragcore.Task{ConversationID: req.ConversationID, ToolDefaults: req.ToolDefaults}
	if req.ConversationID != "" {
		prior, err := s.history.Messages(ctx, req.ConversationID, historyLimit)
		if err != nil {
			s.logger.Error("load history failed", "conversation_id", req.ConversationID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "load history failed")
			return
		}
		// The run persists only what it appends, so incoming turns are
		// saved here.
		for i := range incoming {
			if incoming[i].ID == "" {
				incoming[i].ID = ragcore.NewID()
			}
			if err := s.history.SaveMessage(ctx, req.ConversationID, incoming[i]); err != nil {
				s.logger.Error("save message failed", "conversation_id", req.ConversationID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "save message failed")
				return
			}
		}
		task.Messages = prior
	}
	task.Messages = append(task.Messages, incoming...)

	start := time.Now()
	res, err := ragcore.ServeSSE(ctx, w, s.agent, task)
	if err != nil {
		s.logger.Warn("chat run failed", "conversation_id", req.ConversationID, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("chat run completed",
		"conversation_id", req.ConversationID,
		"citations", len(res.Citations),
		"results", len(res.SearchResults),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration", time.Since(start))
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.history.Messages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("list messages failed", "conversation_id", r.PathValue("id"), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "list messages failed")
		return
	}
	if msgs == nil {
		msgs = []ragcore.ChatMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	s := &server{agent: a.agent, history: a.store, logger: logger}
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "mode", cfg.Agent.Mode)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}
