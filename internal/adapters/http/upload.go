package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kirillkom/mditd/internal/core/domain"
)

const (
	// multipartMemory is how much of a form is held in memory before parts spill to disk.
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
	mib               = 1 << 20
)

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	bodyLimit := rt.cfg.MaxTotalSize + multipartOverhead
	if r.ContentLength > bodyLimit {
		rt.rejectBody(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			rt.rejectBody(w)
			return
		}
		writeDetail(w, http.StatusBadRequest, "No files provided")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeDetail(w, http.StatusBadRequest, "No files provided")
		return
	}
	items := make([]domain.UploadItem, 0, len(headers))
	for _, fh := range headers {
		items = append(items, uploadItem(fh))
	}

	outputDir := ""
	if values := r.MultipartForm.Value["output_dir"]; len(values) > 0 {
		outputDir = strings.TrimSpace(values[0])
	}

	ctx := r.Context()
	if rt.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.RequestTimeout)
		defer cancel()
	}

	summary, err := rt.batch.Process(ctx, items, outputDir)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		rt.logger.Warn("batch_rejected",
			"request_id", requestIDFromContext(r.Context()),
			"status", status,
			"files", len(items),
			"output_dir", outputDir,
			"error", err,
		)
		writeDetail(w, status, errorDetail(status, err))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) rejectBody(w http.ResponseWriter) {
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordRejection("body_too_large")
	}
	writeDetail(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Total upload size exceeds limit of %d MB", rt.cfg.MaxTotalSize/mib))
}

func uploadItem(fh *multipart.FileHeader) domain.UploadItem {
	return domain.UploadItem{
		Filename: fh.Filename,
		Size:     fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func isBodyTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large")
}
