package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// composableTemplateList is the wire form of GET /_index_template.
type composableTemplateList struct {
	IndexTemplates []struct {
		Name          string          `json:"name"`
		IndexTemplate json.RawMessage `json:"index_template"`
	} `json:"index_templates"`
}

// lifecycleName digs the bound policy name out of a raw template body.
// Composable templates nest it under template.settings, legacy templates
// under settings; both flatten the key the same way.
func lifecycleName(raw json.RawMessage, legacy bool) string {
	var settings map[string]any

	if legacy {
		var body struct {
			Settings map[string]any `json:"settings"`
		}
		if json.Unmarshal(raw, &body) != nil {
			return ""
		}
		settings = body.Settings
	} else {
		var body struct {
			Template struct {
				Settings map[string]any `json:"settings"`
			} `json:"template"`
		}
		if json.Unmarshal(raw, &body) != nil {
			return ""
		}
		settings = body.Template.Settings
	}

	// Settings may arrive flattened ("index.lifecycle.name") or nested.
	if v, ok := settings["index.lifecycle.name"].(string); ok {
		return v
	}
	if index, ok := settings["index"].(map[string]any); ok {
		if lifecycle, ok := index["lifecycle"].(map[string]any); ok {
			if v, ok := lifecycle["name"].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ListTemplates returns every composable and legacy index template together
// with the lifecycle policy each is bound to.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template

	var composable composableTemplateList
	if err := c.get(ctx, "/_index_template", &composable); err != nil {
		return nil, fmt.Errorf("failed to list composable templates: %w", err)
	}
	for _, t := range composable.IndexTemplates {
		templates = append(templates, Template{
			Name:   t.Name,
			Policy: lifecycleName(t.IndexTemplate, false),
		})
	}

	var legacy map[string]json.RawMessage
	if err := c.get(ctx, "/_template", &legacy); err != nil {
		return nil, fmt.Errorf("failed to list legacy templates: %w", err)
	}
	for name, raw := range legacy {
		templates = append(templates, Template{
			Name:   name,
			Policy: lifecycleName(raw, true),
			Legacy: true,
		})
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// SetTemplatePolicy rebinds a template to the given lifecycle policy,
// preserving the rest of the template body.
func (c *Client) SetTemplatePolicy(ctx context.Context, name string, legacy bool, policy string) error {
	if legacy {
		var all map[string]map[string]any
		if err := c.get(ctx, "/_template/"+pathEscape(name), &all); err != nil {
			return fmt.Errorf("failed to fetch legacy template %q: %w", name, err)
		}
		body, ok := all[name]
		if !ok {
			return fmt.Errorf("legacy template %q missing from response", name)
		}
		setLifecycleName(body, "settings", policy)
		if err := c.put(ctx, "/_template/"+pathEscape(name), body, nil); err != nil {
			return fmt.Errorf("failed to update legacy template %q: %w", name, err)
		}
		return nil
	}

	var list composableTemplateList
	if err := c.get(ctx, "/_index_template/"+pathEscape(name), &list); err != nil {
		return fmt.Errorf("failed to fetch template %q: %w", name, err)
	}
	if len(list.IndexTemplates) == 0 {
		return fmt.Errorf("template %q missing from response", name)
	}

	var body map[string]any
	if err := json.Unmarshal(list.IndexTemplates[0].IndexTemplate, &body); err != nil {
		return fmt.Errorf("failed to decode template %q: %w", name, err)
	}
	template, _ := body["template"].(map[string]any)
	if template == nil {
		template = map[string]any{}
		body["template"] = template
	}
	setLifecycleName(template, "settings", policy)

	if err := c.put(ctx, "/_index_template/"+pathEscape(name), body, nil); err != nil {
		return fmt.Errorf("failed to update template %q: %w", name, err)
	}
	return nil
}

// setLifecycleName sets the flattened lifecycle key inside container[key].
func setLifecycleName(container map[string]any, key, policy string) {
	settings, _ := container[key].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
		container[key] = settings
	}
	// Drop a nested form if present so the flattened key wins.
	if index, ok := settings["index"].(map[string]any); ok {
		delete(index, "lifecycle")
	}
	settings["index.lifecycle.name"] = policy
}
