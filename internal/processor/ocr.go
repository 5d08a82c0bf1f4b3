package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/redact"
)

// OCRConfig configures the OCR processor.
type OCRConfig struct {
	// Command is the tesseract executable.
	Command string
	// Languages are used when the task input names none.
	Languages []string
	// WorkDir holds one scratch directory per task.
	WorkDir string
}

// OCRInput is the input of an OCR task.
type OCRInput struct {
	// ImageData is base64 image data, optionally prefixed as a data URL.
	ImageData string   `json:"imageData" validate:"required"`
	Languages []string `json:"languages,omitempty" validate:"omitempty,max=8,dive,required,max=32"`
}

// OCRResult is the payload of a completed OCR task.
type OCRResult struct {
	Text       string   `json:"text"`
	Languages  []string `json:"languages"`
	Confidence float64  `json:"confidence"`
}

// OCR recognises text in images with tesseract.
type OCR struct {
	config OCRConfig
	runner CommandRunner
	logger *slog.Logger
}

// NewOCR creates an OCR processor.
func NewOCR(cfg OCRConfig, runner CommandRunner, logger *slog.Logger) *OCR {
	if cfg.Command == "" {
		cfg.Command = "tesseract"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "swiftdocs-ocr")
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &OCR{
		config: cfg,
		runner: runner,
		logger: logger.With("component", "ocr_processor"),
	}
}

// Validate checks the task input, including that the image decodes.
func (o *OCR) Validate(input json.RawMessage) error {
	_, _, err := parseOCRInput(input)
	return err
}

// parseOCRInput decodes and checks the input and returns the decoded image.
func parseOCRInput(raw json.RawMessage) (OCRInput, []byte, error) {
	var in OCRInput
	if err := decodeInput(raw, &in); err != nil {
		return in, nil, err
	}
	for _, lang := range in.Languages {
		if !validLanguage(lang) {
			return in, nil, domain.Validationf("languages: %q is not a tesseract language code", lang)
		}
	}
	image, err := decodeImage(in.ImageData)
	if err != nil {
		return in, nil, domain.Validationf("imageData: %v", err)
	}
	return in, image, nil
}

// validLanguage accepts tesseract traineddata names such as "eng" or
// "chi_sim".
func validLanguage(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return s != ""
}

// Execute writes the image into the task's scratch directory and runs
// tesseract over it.
func (o *OCR) Execute(ctx context.Context, job domain.Job, progress domain.ProgressFunc) (domain.Outcome, error) {
	in, image, err := parseOCRInput(job.Input)
	if err != nil {
		return domain.Failed(err.Error()), nil
	}
	langs := in.Languages
	if len(langs) == 0 {
		langs = o.config.Languages
	}
	logger := o.logger.With("task_id", job.TaskID)
	progress(10)

	dir := o.taskDir(job.TaskID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to create ocr work dir: %w", err)
	}
	defer o.cleanup(logger, dir)

	imagePath := filepath.Join(dir, "input"+imageExtension(image))
	if err := os.WriteFile(imagePath, image, 0o600); err != nil {
		return domain.Outcome{}, fmt.Errorf("failed to write ocr image: %w", err)
	}
	progress(30)

	out, err := o.runner.Run(ctx, o.config.Command, imagePath, "stdout", "-l", strings.Join(langs, "+"), "tsv")
	if err != nil {
		if ctx.Err() != nil {
			return domain.Outcome{}, ctx.Err()
		}
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("tesseract failed", "exit_code", exitErr.Code, "stderr", redact.String(exitErr.Stderr))
			return domain.Failed("text recognition failed for the supplied image"), nil
		}
		return domain.Outcome{}, err
	}
	progress(90)

	text, confidence := parseTSV(string(out))
	return domain.Succeeded(OCRResult{Text: text, Languages: langs, Confidence: confidence})
}

// Release removes the task's scratch directory.
func (o *OCR) Release(ctx context.Context, taskID string) error {
	return os.RemoveAll(o.taskDir(taskID))
}

func (o *OCR) taskDir(taskID string) string {
	return filepath.Join(o.config.WorkDir, filepath.Base(taskID))
}

func (o *OCR) cleanup(logger *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove ocr work dir", "error", redact.Error(err))
	}
}

// decodeImage strips an optional data URL prefix and decodes base64.
func decodeImage(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		_, payload, ok := strings.Cut(data, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		data = payload
	}
	data = strings.TrimSpace(data)
	image, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("not valid base64")
	}
	if len(image) == 0 {
		return nil, errors.New("image is empty")
	}
	if mt := mimetype.Detect(image); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("unsupported content type %s", mt.String())
	}
	return image, nil
}

// imageExtension names the scratch file so tesseract picks the right
// decoder.
func imageExtension(image []byte) string {
	if ext := mimetype.Detect(image).Extension(); ext != "" {
		return ext
	}
	return ".img"
}

// parseTSV rebuilds the recognised text from tesseract's TSV output, one
// line per text line and a blank line between blocks, and returns the mean
// word confidence scaled to [0,1].
func parseTSV(tsv string) (string, float64) {
	var (
		b                   strings.Builder
		lastBlock, lastLine string
		sum                 float64
		words               int
	)
	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(row, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if word == "" || err != nil || conf < 0 {
			continue
		}

		block := cols[1] + "." + cols[2]
		line := block + "." + cols[3] + "." + cols[4]
		switch {
		case b.Len() == 0:
		case block != lastBlock:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		b.WriteString(word)
		lastBlock, lastLine = block, line

		if conf > 0 {
			sum += conf
			words++
		}
	}
	if words == 0 {
		return b.String(), 0
	}
	return b.String(), sum / float64(words) / 100
}
