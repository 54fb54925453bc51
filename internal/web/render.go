package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/mwielgosz/userhub/internal/account"
	"github.com/mwielgosz/userhub/internal/logging"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer renders the embedded page templates. It satisfies
// account.Renderer.
type Renderer struct {
	templates *template.Template
	logger    *logging.Logger
}

func NewRenderer(logger *logging.Logger) (*Renderer, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Renderer{templates: templates, logger: logger}, nil
}

// Render writes the named page. Data must be non-nil; templates assume
// it.
func (r *Renderer) Render(w http.ResponseWriter, statusCode int, page string, data *account.PageData) {
	if data.Form == nil {
		data.Form = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := r.templates.ExecuteTemplate(w, page+".html", data); err != nil {
		r.logger.Error("failed to render page", "page", page, "error", err.Error())
	}
}
