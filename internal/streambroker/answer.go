package streambroker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type answerRequest struct {
	ThreadID   string          `json:"thread_id"`
	QuestionID string          `json:"question_id"`
	Answers    json.RawMessage `json:"answers"`
}

type answerResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
}

// handleAnswer implements POST /answer (§4.5, §6.1): forwards a human's
// answer to the thread's sandbox synchronously and maps the upstream's
// error responses per §7's distinguished mappings.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ThreadID) == "" || len(req.Answers) == 0 {
		http.Error(w, "thread_id and answers are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.sandboxes.GetSandbox(ctx, req.ThreadID); err != nil {
		if errorsIsNotFound(err) {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		slog.Error("streambroker.answer.get_sandbox_failed", "thread_id", req.ThreadID, "error", err)
		http.Error(w, "sandbox lookup failed", http.StatusInternalServerError)
		return
	}

	if err := s.sandboxes.SendAnswer(ctx, req.ThreadID, req.QuestionID, req.Answers); err != nil {
		status, msg := mapAnswerError(err)
		slog.Warn("streambroker.answer.failed", "thread_id", req.ThreadID, "error", err)
		http.Error(w, msg, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(answerResponse{Status: "ok", ThreadID: req.ThreadID})
}

// mapAnswerError applies §7's distinguished upstream error mappings for
// /answer: "no pending question" (the agent already timed out) is a
// 400, "no active session" is a 404, everything else is a 500.
func mapAnswerError(err error) (int, string) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no pending question"), strings.Contains(msg, "No pending question"):
		return http.StatusBadRequest, "no pending question (may have already timed out)"
	case strings.Contains(msg, "no active session"), strings.Contains(msg, "No active session"):
		return http.StatusNotFound, "no active session"
	default:
		return http.StatusInternalServerError, fmt.Sprintf("answer failed: %v", err)
	}
}
