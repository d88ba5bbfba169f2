package render

import "fmt"

// RenderMap applies templates to each value in a map, used for request
// headers and form fields.
func RenderMap(values map[string]string, ctx TemplateContext, engine *Engine) (map[string]string, error) {
	if len(values) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(values))
	for key, val := range values {
		rendered, err := engine.RenderString(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("render %q: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}
