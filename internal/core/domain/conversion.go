package domain

import (
	"io"
	"time"
)

// UploadItem is one submitted file. Filename is untrusted.
type UploadItem struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// StagedFile is an upload written to the uploads directory, owned by exactly one unit.
type StagedFile struct {
	Filename string
	Path     string
	Size     int64
}

// OutputTarget is a validated output directory below the project root.
type OutputTarget struct {
	Requested string
	Path      string
}

type ConversionResult struct {
	Filename   string  `json:"filename"`
	Success    bool    `json:"success"`
	OutputPath *string `json:"output_path"`
	Error      *string `json:"error"`
	Content    *string `json:"content"`
}

func Succeeded(filename, content, outputPath string) ConversionResult {
	return ConversionResult{
		Filename:   filename,
		Success:    true,
		Content:    &content,
		OutputPath: &outputPath,
	}
}

func Failed(filename, message string) ConversionResult {
	return ConversionResult{
		Filename: filename,
		Success:  false,
		Error:    &message,
	}
}

type BatchSummary struct {
	BatchID    string             `json:"batch_id"`
	OutputDir  string             `json:"output_dir"`
	TotalFiles int                `json:"total_files"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Results    []ConversionResult `json:"results"`
	DurationMS float64            `json:"duration_ms"`
}

// NewBatchSummary counts outcomes; results keep the order they are given in.
func NewBatchSummary(batchID, outputDir string, results []ConversionResult, elapsed time.Duration) *BatchSummary {
	summary := &BatchSummary{
		BatchID:    batchID,
		OutputDir:  outputDir,
		TotalFiles: len(results),
		Results:    results,
		DurationMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	if summary.Results == nil {
		summary.Results = []ConversionResult{}
	}
	for _, res := range results {
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}

type OutputFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Extension  string    `json:"extension"`
	ModifiedAt time.Time `json:"modified_at"`
}

// BatchCompletedEvent is published after every processed batch.
type BatchCompletedEvent struct {
	BatchID     string    `json:"batch_id"`
	OutputDir   string    `json:"output_dir"`
	TotalFiles  int       `json:"total_files"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// BatchRecord is one row of the conversion history.
type BatchRecord struct {
	BatchID     string    `json:"batch_id"`
	OutputDir   string    `json:"output_dir"`
	TotalFiles  int       `json:"total_files"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Filenames   []string  `json:"filenames"`
	DurationMS  float64   `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

func (s *BatchSummary) Event(completedAt time.Time) BatchCompletedEvent {
	return BatchCompletedEvent{
		BatchID:     s.BatchID,
		OutputDir:   s.OutputDir,
		TotalFiles:  s.TotalFiles,
		Successful:  s.Successful,
		Failed:      s.Failed,
		CompletedAt: completedAt,
	}
}

func (s *BatchSummary) Record(completedAt time.Time) BatchRecord {
	names := make([]string, 0, len(s.Results))
	for _, res := range s.Results {
		names = append(names, res.Filename)
	}
	return BatchRecord{
		BatchID:     s.BatchID,
		OutputDir:   s.OutputDir,
		TotalFiles:  s.TotalFiles,
		Successful:  s.Successful,
		Failed:      s.Failed,
		Filenames:   names,
		DurationMS:  s.DurationMS,
		CompletedAt: completedAt,
	}
}
