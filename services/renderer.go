package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
)

var ErrTemplateNotFound = errors.New("reminder template not found")

type TemplateRenderer interface {
	Render(ctx context.Context, templateID string, vars map[string]string) (RenderedMessage, error)
}

// StoreTemplateRenderer renders stored templates with text/template. Variables are
// referenced as {{.patient_name}}; a template naming an unknown variable fails.
type StoreTemplateRenderer struct {
	templates TemplateStore
}

func NewStoreTemplateRenderer(templates TemplateStore) *StoreTemplateRenderer {
	return &StoreTemplateRenderer{templates: templates}
}

func (r *StoreTemplateRenderer) Render(ctx context.Context, templateID string, vars map[string]string) (RenderedMessage, error) {
	tpl, err := r.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return RenderedMessage{}, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}
	if tpl == nil {
		return RenderedMessage{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	subject, err := execute(templateID+".subject", tpl.Subject, vars)
	if err != nil {
		return RenderedMessage{}, err
	}
	body, err := execute(templateID+".body", tpl.Body, vars)
	if err != nil {
		return RenderedMessage{}, err
	}
	return RenderedMessage{Subject: subject, Body: body}, nil
}

func execute(name, text string, vars map[string]string) (string, error) {
	if text == "" {
		return "", nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
