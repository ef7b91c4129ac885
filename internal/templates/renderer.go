package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/storage"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Rendered is a template with every placeholder substituted
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer resolves templates from overrides first, then the built-in set.
// Resolved templates are cached for the life of the process.
type Renderer struct {
	source storage.TemplateSource
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Template
}

func NewRenderer(source storage.TemplateSource, logger *zap.Logger) *Renderer {
	return &Renderer{
		source: source,
		logger: logger,
		cache:  make(map[string]Template),
	}
}

// Render fills the named template. Unknown names return domain.ErrTemplateNotFound.
func (r *Renderer) Render(ctx context.Context, name string, data map[string]interface{}) (*Rendered, error) {
	tpl, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Rendered{
		Subject: Substitute(tpl.Subject, data, false),
		HTML:    Substitute(tpl.HTML, data, true),
		Text:    Substitute(tpl.Text, data, false),
	}, nil
}

func (r *Renderer) lookup(ctx context.Context, name string) (Template, error) {
	r.mu.RLock()
	tpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, cacheable, err := r.resolve(ctx, name)
	if err != nil {
		return Template{}, err
	}
	if cacheable {
		r.mu.Lock()
		r.cache[name] = tpl
		r.mu.Unlock()
	}
	return tpl, nil
}

func (r *Renderer) resolve(ctx context.Context, name string) (Template, bool, error) {
	builtin, hasBuiltin := builtins[name]
	if r.source == nil {
		if !hasBuiltin {
			return Template{}, false, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
		}
		return builtin, true, nil
	}

	raw, err := r.source.Get(ctx, name)
	switch {
	case err == nil:
		var override Template
		if err := json.Unmarshal(raw, &override); err != nil {
			r.logger.Warn("ignoring malformed template override", zap.String("template", name), zap.Error(err))
			break
		}
		return mergeOverride(override, builtin), true, nil
	case errors.Is(err, storage.ErrNotExist):
		if !hasBuiltin {
			return Template{}, false, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
		}
		return builtin, true, nil
	default:
		// storage outage, fall back without caching so the override is picked up later
		r.logger.Warn("template override unavailable", zap.String("template", name), zap.Error(err))
	}

	if !hasBuiltin {
		return Template{}, false, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
	}
	return builtin, false, nil
}

// mergeOverride keeps built-in parts the override leaves empty
func mergeOverride(override, builtin Template) Template {
	if override.Subject == "" {
		override.Subject = builtin.Subject
	}
	if override.HTML == "" {
		override.HTML = builtin.HTML
	}
	if override.Text == "" {
		override.Text = builtin.Text
	}
	return override
}

// Substitute replaces {{key}} placeholders. Missing keys render as "".
// In HTML mode values are escaped unless the key ends in "Html".
func Substitute(text string, data map[string]interface{}, escapeHTML bool) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		v, ok := data[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if escapeHTML && !strings.HasSuffix(key, "Html") {
			return html.EscapeString(s)
		}
		return s
	})
}
