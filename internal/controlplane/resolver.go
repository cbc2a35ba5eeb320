package controlplane

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile document keys and endpoint conventions.
const (
	keyController = "external-controller"
	keySecret     = "secret"

	// loopbackHost is prefixed to controllers given in ":PORT" form.
	loopbackHost = "127.0.0.1"

	// dashboardPath is where the engine serves its bundled web UI.
	dashboardPath = "/ui"
)

// APIDetails is the control-plane endpoint of a profile.
type APIDetails struct {
	// Controller is the normalised host:port of the management API.
	Controller string `json:"controller"`

	// BaseURL is http://<Controller>.
	BaseURL string `json:"base_url"`

	// Secret is the bearer secret, empty when the profile sets none.
	Secret string `json:"-"`

	// DashboardURL is BaseURL + "/ui".
	DashboardURL string `json:"dashboard_url"`
}

// HasSecret reports whether the endpoint requires a bearer secret.
func (d APIDetails) HasSecret() bool {
	return d.Secret != ""
}

// ReadAPIDetails reads the profile at path and derives its endpoint.
// ok is false when the profile declares no controller or cannot be read
// or parsed; no error is ever returned.
func ReadAPIDetails(path string) (details APIDetails, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return APIDetails{}, false
	}
	return ParseAPIDetails(data)
}

// ParseAPIDetails derives the endpoint from raw profile content. A
// document whose top-level mapping repeats a key is treated as unparsable.
func ParseAPIDetails(data []byte) (details APIDetails, ok bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return APIDetails{}, false
	}

	root := topLevelMapping(&doc)
	if root == nil || hasDuplicateKeys(root) {
		return APIDetails{}, false
	}

	controller := scalarValue(root, keyController)
	if controller == "" {
		return APIDetails{}, false
	}

	if strings.HasPrefix(controller, ":") {
		controller = loopbackHost + controller
	}

	base := "http://" + controller
	return APIDetails{
		Controller:   controller,
		BaseURL:      base,
		Secret:       scalarValue(root, keySecret),
		DashboardURL: base + dashboardPath,
	}, true
}

// topLevelMapping returns the document's root mapping, or nil when the
// document is empty or its root is not a mapping.
func topLevelMapping(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

// hasDuplicateKeys reports whether any key appears twice in mapping. A
// profile with repeated top-level keys is rejected as a whole.
func hasDuplicateKeys(mapping *yaml.Node) bool {
	seen := make(map[string]bool, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k := mapping.Content[i]
		if k.Kind != yaml.ScalarNode {
			continue
		}
		if seen[k.Value] {
			return true
		}
		seen[k.Value] = true
	}
	return false
}

// scalarValue returns the text of the first top-level scalar stored under
// key. Scalars keep their source text, so a numeric secret such as 0123 is
// passed through unchanged. Null, mapping and sequence values yield "".
func scalarValue(mapping *yaml.Node, key string) string {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k, v := mapping.Content[i], mapping.Content[i+1]
		if k.Value != key {
			continue
		}
		if v.Kind == yaml.AliasNode && v.Alias != nil {
			v = v.Alias
		}
		if v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
			return ""
		}
		return strings.TrimSpace(v.Value)
	}
	return ""
}
