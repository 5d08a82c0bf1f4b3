package processor

import (
	"errors"
	"fmt"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// Registry binds exactly one processor to each task type.
type Registry struct {
	ocr         domain.Processor
	pdf         domain.Processor
	translation domain.Processor
}

// NewRegistry creates a Registry. Every processor is required.
func NewRegistry(ocr, pdf, translation domain.Processor) (*Registry, error) {
	var missing []error
	if ocr == nil {
		missing = append(missing, fmt.Errorf("no processor for task type %s", domain.TaskTypeOCR))
	}
	if pdf == nil {
		missing = append(missing, fmt.Errorf("no processor for task type %s", domain.TaskTypePDF))
	}
	if translation == nil {
		missing = append(missing, fmt.Errorf("no processor for task type %s", domain.TaskTypeTranslation))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return &Registry{ocr: ocr, pdf: pdf, translation: translation}, nil
}

// Lookup returns the processor for t.
func (r *Registry) Lookup(t domain.TaskType) (domain.Processor, error) {
	switch t {
	case domain.TaskTypeOCR:
		return r.ocr, nil
	case domain.TaskTypePDF:
		return r.pdf, nil
	case domain.TaskTypeTranslation:
		return r.translation, nil
	default:
		return nil, domain.Validationf("unknown task type %q", t)
	}
}
