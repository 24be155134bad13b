package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
	"go.uber.org/zap"
)

type textRequest struct {
	Text       string `json:"text"`
	ResourceID string `json:"resourceId"`
}

type detectResponse struct {
	Matches     []privacy.Match `json:"matches"`
	Count       int             `json:"count"`
	ContainsPHI bool            `json:"containsPHI"`
}

type patternInfo struct {
	Name       string             `json:"name"`
	Pattern    string             `json:"pattern"`
	Confidence privacy.Confidence `json:"confidence"`
	Category   string             `json:"category"`
	Enabled    bool               `json:"enabled"`
}

// redactOptions overrides the configured redaction defaults field by field
type redactOptions struct {
	RedactionChar  string  `json:"redactionChar"`
	PreserveLength *bool   `json:"preserveLength"`
	ShowPartial    *bool   `json:"showPartial"`
	PartialChars   *int    `json:"partialChars"`
	UseHash        *bool   `json:"useHash"`
	HashPrefix     *string `json:"hashPrefix"`
}

type redactRequest struct {
	Text       string         `json:"text"`
	ResourceID string         `json:"resourceId"`
	Types      []string       `json:"types"`
	Options    *redactOptions `json:"options"`
}

type batchRedactRequest struct {
	Texts      []string       `json:"texts"`
	ResourceID string         `json:"resourceId"`
	Options    *redactOptions `json:"options"`
}

type batchRedactResponse struct {
	Results        []redact.Result `json:"results"`
	RedactionCount int             `json:"redactionCount"`
}

type previewRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"maxLength"`
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	enabled := make(map[string]bool)
	for _, name := range s.detector.EnabledRules() {
		enabled[name] = true
	}

	patterns := s.detector.Patterns()
	out := make([]patternInfo, len(patterns))
	for i, p := range patterns {
		out[i] = patternInfo{
			Name:       p.Name,
			Pattern:    p.Pattern.String(),
			Confidence: p.Confidence,
			Category:   p.Category,
			Enabled:    enabled[p.Name],
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	matches := s.detector.Detect(req.Text)
	s.metrics.MatchesFound(privacy.Types(matches))

	if len(matches) > 0 {
		_, err := s.audit.LogPHIDetection(r.Context(), userID(r), s.resourceID(r, req.ResourceID),
			privacy.Types(matches), string(privacy.HighestConfidence(matches)), len(matches))
		s.auditFailed(r, err)
	}

	writeJSON(w, http.StatusOK, detectResponse{
		Matches:     matches,
		Count:       len(matches),
		ContainsPHI: len(matches) > 0,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.detector.AnalyzeRisk(req.Text))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.detector.Summary(req.Text))
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if !s.decode(w, r, &req) {
		return
	}

	opts, err := s.redactOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result redact.Result
	if req.Types != nil {
		result = s.redactor.RedactByType(req.Text, req.Types, opts)
	} else {
		result = s.redactor.Redact(req.Text, opts)
	}

	s.recordRedaction(r, req.ResourceID, result.RedactionCount, opts)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRedactBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRedactRequest
	if !s.decode(w, r, &req) {
		return
	}

	opts, err := s.redactOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := batchRedactResponse{Results: s.redactor.RedactBatch(req.Texts, opts)}
	for _, res := range resp.Results {
		resp.RedactionCount += res.RedactionCount
	}

	s.recordRedaction(r, req.ResourceID, resp.RedactionCount, opts)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decode(w, r, &req) {
		return
	}

	maxLength := req.MaxLength
	if maxLength <= 0 {
		maxLength = s.config.Privacy.PreviewLength
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"preview": s.redactor.CreateSafePreview(req.Text, maxLength),
	})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.audit.GetEvents(filter))
}

func (s *Server) handleAuditMetrics(w http.ResponseWriter, r *http.Request) {
	dateRange, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.audit.GetComplianceMetrics(dateRange))
}

func (s *Server) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	fields := audit.DefaultSearchFields
	if raw := q.Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	writeJSON(w, http.StatusOK, s.audit.SearchLogs(query, fields))
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := audit.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.FormatJSON
	}

	events := s.audit.GetEvents(filter)
	data, err := audit.EncodeEvents(format, events)
	if errors.Is(err, audit.ErrUnknownFormat) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Audit export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	containsPHI := false
	for _, e := range events {
		if e.Action == audit.ActionPHIDetected {
			containsPHI = true
			break
		}
	}
	_, err = s.audit.Log(r.Context(), userID(r), audit.ActionDataExported, audit.ResourceData, "audit_log",
		audit.ExportDetails{Format: string(format), RecordCount: len(events), ContainsPHI: containsPHI}, audit.RiskMedium)
	s.auditFailed(r, err)

	contentType := "application/json"
	if format == audit.FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-log.%s"`, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// redactOptions layers per-request overrides on the configured defaults
func (s *Server) redactOptions(o *redactOptions) (redact.Options, error) {
	opts := redact.OptionsFromConfig(s.config.Privacy.Redaction)
	if o != nil {
		if o.RedactionChar != "" {
			if utf8.RuneCountInString(o.RedactionChar) != 1 {
				return opts, fmt.Errorf("redactionChar must be a single character")
			}
			opts.RedactionChar, _ = utf8.DecodeRuneInString(o.RedactionChar)
		}
		if o.PreserveLength != nil {
			opts.PreserveLength = *o.PreserveLength
		}
		if o.ShowPartial != nil {
			opts.ShowPartial = *o.ShowPartial
		}
		if o.PartialChars != nil {
			opts.PartialChars = *o.PartialChars
		}
		if o.UseHash != nil {
			opts.UseHash = *o.UseHash
		}
		if o.HashPrefix != nil {
			opts.HashPrefix = *o.HashPrefix
		}
	}
	return opts, opts.Validate()
}

func (s *Server) recordRedaction(r *http.Request, resourceID string, count int, opts redact.Options) {
	s.metrics.Redacted(count)
	if count == 0 {
		return
	}
	_, err := s.audit.LogPHIRedaction(r.Context(), userID(r), s.resourceID(r, resourceID), count, opts.Method())
	s.auditFailed(r, err)
}

func (s *Server) resourceID(r *http.Request, requested string) string {
	if requested != "" {
		return requested
	}
	return getRequestID(r.Context())
}

func (s *Server) auditFailed(r *http.Request, err error) {
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to record audit event", zap.Error(err))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:    q.Get("userId"),
		Action:    audit.Action(q.Get("action")),
		RiskLevel: audit.RiskLevel(q.Get("riskLevel")),
	}

	if filter.Action != "" && !filter.Action.Valid() {
		return filter, fmt.Errorf("unknown action %q", filter.Action)
	}
	if filter.RiskLevel != "" && !filter.RiskLevel.Valid() {
		return filter, fmt.Errorf("unknown risk level %q", filter.RiskLevel)
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}

	dateRange, err := parseDateRange(r)
	if err != nil {
		return filter, err
	}
	filter.DateRange = dateRange
	return filter, nil
}

// parseDateRange reads RFC 3339 start and end parameters. Both or neither
// must be present.
func parseDateRange(r *http.Request) (*audit.DateRange, error) {
	q := r.URL.Query()
	rawStart, rawEnd := q.Get("start"), q.Get("end")
	if rawStart == "" && rawEnd == "" {
		return nil, nil
	}
	if rawStart == "" || rawEnd == "" {
		return nil, errors.New("start and end must be given together")
	}

	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}
	if end.Before(start) {
		return nil, errors.New("end is before start")
	}
	return &audit.DateRange{Start: start, End: end}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
