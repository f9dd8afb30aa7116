package httpadapter

import (
	"context"
	"mime"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/mditd/internal/config"
	"github.com/kirillkom/mditd/internal/core/domain"
)

const healthCheckTimeout = 2 * time.Second

type formatInfo struct {
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	components := make(map[string]string, len(rt.healthChecks))
	names := make([]string, 0, len(rt.healthChecks))
	for name := range rt.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := rt.healthChecks[name]
		switch {
		case check == nil:
			components[name] = "disabled"
		case check(ctx) != nil:
			components[name] = "unhealthy"
			status = "degraded"
		default:
			components[name] = "healthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"service":    config.ServiceName,
		"version":    config.Version,
		"timestamp":  float64(time.Now().UnixMilli()) / 1000.0,
		"components": components,
		"system": map[string]any{
			"go_version":     runtime.Version(),
			"num_cpu":        runtime.NumCPU(),
			"goroutines":     runtime.NumGoroutine(),
			"workers":        rt.workers,
			"uptime_seconds": int64(time.Since(rt.started).Seconds()),
		},
		"config": map[string]any{
			"max_file_size":   rt.cfg.MaxFileSize,
			"max_total_size":  rt.cfg.MaxTotalSize,
			"max_files_count": rt.cfg.MaxFilesCount,
			"output_dir":      rt.cfg.OutputDir,
			"frontmatter":     rt.cfg.Frontmatter,
		},
	})
}

func (rt *Router) listFormats(w http.ResponseWriter, r *http.Request) {
	exts := rt.formats.SupportedExtensions()
	payload := map[string]any{"supported_formats": exts}

	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		infos := make([]formatInfo, 0, len(exts))
		for _, ext := range exts {
			infos = append(infos, formatInfo{Extension: ext, MimeType: mimeType(ext)})
		}
		payload["formats"] = infos
	}
	writeJSON(w, http.StatusOK, payload)
}

func mimeType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, ok := strings.Cut(t, ";"); ok {
			return strings.TrimSpace(base)
		}
		return t
	}
	return "application/octet-stream"
}

func (rt *Router) listOutputs(w http.ResponseWriter, r *http.Request) {
	target, files, err := rt.outputs.ListOutputs(r.Context(), r.URL.Query().Get("output_dir"))
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		writeDetail(w, status, errorDetail(status, err))
		return
	}
	if files == nil {
		files = []domain.OutputFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"output_dir": target.Path,
		"files":      files,
	})
}

func (rt *Router) listHistory(w http.ResponseWriter, r *http.Request) {
	if rt.history == nil {
		writeDetail(w, http.StatusNotFound, "Conversion history is not enabled")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := rt.history.ListRecent(r.Context(), limit)
	if err != nil {
		rt.logger.Error("history_query_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		status := mapErrorToHTTPStatus(err)
		writeDetail(w, status, errorDetail(status, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": records})
}
