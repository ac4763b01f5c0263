package templating

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/osteele/liquid"
)

// WhatsApp bodies use positional placeholders ({{1}}); Liquid would print
// those as number literals, so they are rewritten to named variables first.
var (
	positional = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)
	digitsOnly = regexp.MustCompile(`^\d+$`)
)

func positionalName(n string) string { return "var_" + n }

// Renderer compiles template bodies and caches them by template ID.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template ID -> *liquid.Template
}

// NewRenderer creates a renderer with the default Liquid engine.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if s, ok := value.(string); ok && s != "" {
			return s
		}
		if value == nil {
			return fallback
		}
		return value
	})
	return &Renderer{engine: engine}
}

// Render renders body with vars. An empty cacheKey disables caching.
func (r *Renderer) Render(cacheKey, body string, vars map[string]string) (string, error) {
	tpl, err := r.compile(cacheKey, body)
	if err != nil {
		return "", err
	}

	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		if digitsOnly.MatchString(k) {
			bindings[positionalName(k)] = v
			continue
		}
		bindings[k] = v
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Validate reports syntax errors in body.
func (r *Renderer) Validate(body string) error {
	_, err := r.compile("", body)
	return err
}

func (r *Renderer) compile(cacheKey, body string) (*liquid.Template, error) {
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template), nil
		}
	}
	src := positional.ReplaceAllString(body, "{{ "+positionalName("$1")+" }}")
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if cacheKey != "" {
		r.cache.Store(cacheKey, tpl)
	}
	return tpl, nil
}
