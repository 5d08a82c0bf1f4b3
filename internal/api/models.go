package api

import (
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/processor"
)

// SubmitResponse is returned when a task is accepted.
type SubmitResponse struct {
	TaskID   string            `json:"taskId"`
	Status   domain.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
}

// DeleteResponse is returned when a task is cancelled.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// HealthResponse is returned by the health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// TranslateRequest is the body of POST /api/v1/translation/translate.
type TranslateRequest struct {
	Text           string `json:"text" validate:"required"`
	Provider       string `json:"provider" validate:"required,oneof=openai deepseek google baidu"`
	TargetLanguage string `json:"targetLanguage" validate:"required"`
	Mode           string `json:"mode,omitempty" validate:"omitempty,oneof=selection full"`
}

func (r TranslateRequest) input() processor.TranslationInput {
	return processor.TranslationInput{
		Text:     r.Text,
		Provider: r.Provider,
		Target:   r.TargetLanguage,
		Mode:     r.Mode,
	}
}

// OCRRequest is the body of POST /api/v1/ocr/process.
type OCRRequest struct {
	ImageData string   `json:"imageData" validate:"required"`
	Languages []string `json:"languages,omitempty" validate:"omitempty,max=8,dive,required"`
}

func (r OCRRequest) input() processor.OCRInput {
	return processor.OCRInput{ImageData: r.ImageData, Languages: r.Languages}
}

// PDFRequest is the body of POST /api/v1/pdf/process.
type PDFRequest struct {
	FilePath string `json:"filePath" validate:"required"`
	Mode     string `json:"mode" validate:"required,oneof=text layout image"`
	Pages    []int  `json:"pages,omitempty" validate:"omitempty,dive,gte=1"`
	// Region is re-validated by the PDF processor on submission.
	Region *processor.PDFRegion `json:"bbox,omitempty"`
}

func (r PDFRequest) input() processor.PDFInput {
	return processor.PDFInput{FilePath: r.FilePath, Mode: r.Mode, Pages: r.Pages, Region: r.Region}
}

func submitResponse(rec *domain.TaskRecord) SubmitResponse {
	return SubmitResponse{TaskID: rec.ID, Status: rec.Status, Progress: rec.Progress}
}
