package service

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// TemplateService renders {field} placeholders from per-recipient template
// fields. Rendering happens once, when the campaign starts; the resulting
// messages are frozen before dispatch.
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render replaces {field_name} placeholders with values from fields.
// Missing fields render as empty strings; unknown placeholders are removed.
func (s *TemplateService) Render(template string, fields map[string]string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		name := strings.Trim(placeholder, "{}")
		return fields[name]
	})

	return rendered, nil
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if template == "" {
		return fmt.Errorf("template cannot be empty")
	}

	// Check for balanced braces
	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")

	if openCount != closeCount {
		return fmt.Errorf("template has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// GetPlaceholders extracts all placeholders from a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	return placeholderPattern.FindAllString(template, -1)
}
