package httputil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ProblemContentType is the media type for RFC 7807 problem documents.
const ProblemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document. The downstream system uses it for
// every non-2xx answer, and this service uses it for its own errors.
type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
	}
	return fmt.Sprintf("%d %s", p.Status, p.Title)
}

// Summary returns the most specific human-readable text the problem carries.
func (p *Problem) Summary() string {
	if p == nil {
		return ""
	}
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// WriteProblem serialises p with the problem+json content type.
func WriteProblem(w http.ResponseWriter, p *Problem) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", slog.String("error", err.Error()))
	}
}

// ParseProblem decodes body as a problem document. It returns nil when the
// body is empty or is not a JSON object; a missing status is filled from
// statusCode.
func ParseProblem(statusCode int, contentType string, body []byte) *Problem {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	if contentType != "" && !strings.Contains(contentType, "json") {
		return nil
	}
	var p Problem
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return nil
	}
	if p.Status == 0 {
		p.Status = statusCode
	}
	return &p
}
