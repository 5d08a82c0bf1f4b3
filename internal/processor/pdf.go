package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	"github.com/phrazzld/swiftdocs-api/internal/redact"
)

// PDF extraction modes.
const (
	PDFModeText   = "text"
	PDFModeLayout = "layout"
	PDFModeImage  = "image"
)

// renderDPI renders pages at twice the 72 dpi of PDF user space.
const renderDPI = 144

var errNotImage = errors.New("renderer produced no png image")

// PDFConfig configures the PDF processor.
type PDFConfig struct {
	// Command is the pdftotext executable.
	Command string
	// RenderCommand is the pdftoppm executable used by image mode.
	RenderCommand string
}

// PDFInput is the input of a PDF task.
type PDFInput struct {
	FilePath string `json:"filePath" validate:"required"`
	Mode     string `json:"mode" validate:"required,oneof=text layout image"`
	// Pages selects 1-based pages; empty means the whole document.
	Pages []int `json:"pages,omitempty" validate:"omitempty,max=500,dive,gte=1"`
	// Region restricts the task to one rectangle of one page.
	Region *PDFRegion `json:"bbox,omitempty" validate:"omitempty,excluded_with=Pages"`
}

// PDFRegion is a rectangle on a page in PDF points, measured from the
// top-left corner.
type PDFRegion struct {
	Page   int     `json:"page" validate:"gte=1"`
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

// PDFPage is the text of one page.
type PDFPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// PDFImage is one rendered page, base64-encoded PNG.
type PDFImage struct {
	Page     int    `json:"page"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// PDFResult is the payload of a completed PDF task. Text modes fill Pages,
// image mode fills Images.
type PDFResult struct {
	Mode   string     `json:"mode"`
	Pages  []PDFPage  `json:"pages,omitempty"`
	Images []PDFImage `json:"images,omitempty"`
}

// PDF extracts text from PDF files with pdftotext and renders pages with
// pdftoppm.
type PDF struct {
	config PDFConfig
	runner CommandRunner
	logger *slog.Logger
}

// NewPDF creates a PDF processor.
func NewPDF(cfg PDFConfig, runner CommandRunner, logger *slog.Logger) *PDF {
	if cfg.Command == "" {
		cfg.Command = "pdftotext"
	}
	if cfg.RenderCommand == "" {
		cfg.RenderCommand = "pdftoppm"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDF{
		config: cfg,
		runner: runner,
		logger: logger.With("component", "pdf_processor"),
	}
}

// Validate checks the task input. The file itself is checked at execution
// because workers may run on another host.
func (p *PDF) Validate(input json.RawMessage) error {
	_, err := p.decode(input)
	return err
}

func (p *PDF) decode(input json.RawMessage) (PDFInput, error) {
	var in PDFInput
	if err := decodeInput(input, &in); err != nil {
		return in, err
	}
	if in.Mode == PDFModeImage && len(in.Pages) == 0 && in.Region == nil {
		return in, domain.Validationf("image mode requires pages or bbox")
	}
	return in, nil
}

// Execute extracts text from, or renders, the requested pages.
func (p *PDF) Execute(ctx context.Context, job domain.Job, progress domain.ProgressFunc) (domain.Outcome, error) {
	in, err := p.decode(job.Input)
	if err != nil {
		return domain.Failed(err.Error()), nil
	}
	logger := p.logger.With("task_id", job.TaskID, "mode", in.Mode)

	info, err := os.Stat(in.FilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.Failed("pdf file not found"), nil
	case err != nil:
		return domain.Outcome{}, fmt.Errorf("failed to stat pdf file: %w", err)
	case !info.Mode().IsRegular():
		return domain.Failed("pdf file is not a regular file"), nil
	}
	progress(10)

	res := PDFResult{Mode: in.Mode}
	switch {
	case in.Mode == PDFModeImage:
		res.Images, err = p.renderPages(ctx, in, progress)
	case len(in.Pages) == 0 && in.Region == nil:
		res.Pages, err = p.extractAll(ctx, in)
	default:
		res.Pages, err = p.extractPages(ctx, in, progress)
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Outcome{}, ctx.Err()
		}
		var exitErr *ExitError
		switch {
		case errors.As(err, &exitErr):
			logger.Warn("pdf tool failed", "command", exitErr.Command, "exit_code", exitErr.Code, "stderr", redact.String(exitErr.Stderr))
			if in.Mode == PDFModeImage {
				return domain.Failed("page rendering failed for the supplied pdf"), nil
			}
			return domain.Failed("text extraction failed for the supplied pdf"), nil
		case errors.Is(err, errNotImage):
			logger.Warn("pdftoppm output was not an image", "error", err)
			return domain.Failed("page rendering failed for the supplied pdf"), nil
		}
		return domain.Outcome{}, err
	}
	progress(90)

	return domain.Succeeded(res)
}

// extractAll converts the whole document in one run and splits it on the
// form feed pdftotext writes after every page.
func (p *PDF) extractAll(ctx context.Context, in PDFInput) ([]PDFPage, error) {
	out, err := p.runner.Run(ctx, p.config.Command, p.args(in, 0)...)
	if err != nil {
		return nil, err
	}
	chunks := strings.Split(string(out), "\f")
	if n := len(chunks); n > 1 && strings.TrimSpace(chunks[n-1]) == "" {
		chunks = chunks[:n-1]
	}
	pages := make([]PDFPage, 0, len(chunks))
	for i, chunk := range chunks {
		pages = append(pages, PDFPage{Page: i + 1, Text: chunk})
	}
	return pages, nil
}

// extractPages converts each requested page separately, reporting progress
// between pages.
func (p *PDF) extractPages(ctx context.Context, in PDFInput, progress domain.ProgressFunc) ([]PDFPage, error) {
	numbers := selectedPages(in)
	pages := make([]PDFPage, 0, len(numbers))
	for i, n := range numbers {
		out, err := p.runner.Run(ctx, p.config.Command, p.args(in, n)...)
		if err != nil {
			return nil, err
		}
		pages = append(pages, PDFPage{Page: n, Text: strings.TrimSuffix(string(out), "\f")})
		progress(10 + 80*(i+1)/len(numbers))
	}
	return pages, nil
}

// renderPages renders each selected page, or the region, to PNG.
func (p *PDF) renderPages(ctx context.Context, in PDFInput, progress domain.ProgressFunc) ([]PDFImage, error) {
	numbers := selectedPages(in)
	images := make([]PDFImage, 0, len(numbers))
	for i, n := range numbers {
		out, err := p.runner.Run(ctx, p.config.RenderCommand, p.renderArgs(in, n)...)
		if err != nil {
			return nil, err
		}
		if mt := mimetype.Detect(out); !mt.Is("image/png") {
			return nil, fmt.Errorf("%w: page %d is %s", errNotImage, n, mt.String())
		}
		images = append(images, PDFImage{
			Page:     n,
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(out),
		})
		progress(10 + 80*(i+1)/len(numbers))
	}
	return images, nil
}

// args builds the pdftotext arguments; page 0 means every page.
func (p *PDF) args(in PDFInput, page int) []string {
	var args []string
	if in.Mode == PDFModeLayout {
		args = append(args, "-layout")
	}
	if page > 0 {
		n := strconv.Itoa(page)
		args = append(args, "-f", n, "-l", n)
	}
	args = append(args, cropArgs(in.Region, 1)...)
	return append(args, "-enc", "UTF-8", in.FilePath, "-")
}

// renderArgs builds the pdftoppm arguments for one page. Without an output
// root pdftoppm writes the single page to stdout.
func (p *PDF) renderArgs(in PDFInput, page int) []string {
	n := strconv.Itoa(page)
	args := []string{"-f", n, "-l", n, "-singlefile", "-png", "-r", strconv.Itoa(renderDPI)}
	args = append(args, cropArgs(in.Region, renderDPI/72.0)...)
	return append(args, in.FilePath)
}

// cropArgs converts a region to the pixel crop flags shared by pdftotext and
// pdftoppm; scale is pixels per point.
func cropArgs(r *PDFRegion, scale float64) []string {
	if r == nil {
		return nil
	}
	px := func(v float64) string {
		return strconv.Itoa(int(math.Round(v * scale)))
	}
	return []string{
		"-x", px(r.X), "-y", px(r.Y),
		"-W", strconv.Itoa(max(1, int(math.Round(r.Width*scale)))),
		"-H", strconv.Itoa(max(1, int(math.Round(r.Height*scale)))),
	}
}

// selectedPages lists the pages a task touches in ascending order.
func selectedPages(in PDFInput) []int {
	if in.Region != nil {
		return []int{in.Region.Page}
	}
	return uniquePages(in.Pages)
}

func uniquePages(pages []int) []int {
	seen := make(map[int]bool, len(pages))
	out := make([]int, 0, len(pages))
	for _, n := range pages {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
