// Package archives downloads prebuilt dependencies listed in a DEPS.yml manifest,
// verifies their checksums and unpacks them into the project.
package archives

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
)

// Spec describes a single archive
type Spec struct {
	If       string   `yaml:"if,omitempty"`
	IfNot    string   `yaml:"ifNot,omitempty"`
	URL      string   `yaml:"url"`
	Dest     string   `yaml:"dest"`
	Sha256   string   `yaml:"sha256,omitempty"`
	Strip    int      `yaml:"strip,omitempty"`
	MarkExec []string `yaml:"markExec,omitempty"`
}

// Manifest is the content of a DEPS.yml file
type Manifest struct {
	Vars map[string]string `yaml:"vars"`
	Deps map[string]Spec   `yaml:"deps"`
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// LoadManifest parses the manifest at path and also returns the raw content
func LoadManifest(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Could not open file %s.", path)
	}

	var manifest Manifest
	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Failed to parse %s.", path)
	}

	if manifest.Vars == nil {
		manifest.Vars = map[string]string{}
	}

	return &manifest, data, nil
}

// StampPath returns the location of the stamps file that belongs to the given manifest
func StampPath(manifestPath string) string {
	return strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath)) + ".stamps"
}

func readStamps(path string) (map[string]string, error) {
	stamps := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "Failed to read stamps file %s.", path)
	}

	err = json.Unmarshal(data, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", path)
	}

	return stamps, nil
}

func writeStamps(path string, stamps map[string]string) error {
	data, err := json.MarshalIndent(stamps, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode stamps")
	}

	return eris.Wrapf(os.WriteFile(path, data, 0o660), "failed to write %s", path)
}

// conditionVars builds the variables available to if/ifNot for the given host
func conditionVars(manifest *Manifest, host platform.Name, ci bool) map[string]string {
	vars := make(map[string]string, len(manifest.Vars)+3)
	for k, v := range manifest.Vars {
		vars[k] = v
	}

	vars[host.Key()] = "true"
	vars[runtime.GOARCH] = "true"
	if ci {
		vars["ci"] = "true"
	}

	return vars
}

// resolve expands the URL placeholders and evaluates the spec's conditions
func resolve(spec Spec, vars map[string]string) (Spec, bool) {
	spec.URL = varMatcher.ReplaceAllStringFunc(spec.URL, func(match string) string {
		return vars[match[1:len(match)-1]]
	})

	for _, condition := range strings.Split(spec.If, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return spec, false
		}
	}

	for _, condition := range strings.Split(spec.IfNot, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return spec, false
		}
	}

	return spec, true
}

// updateChecksums rewrites the sha256 fields of the named deps while keeping the
// rest of the document (comments, order) intact.
func updateChecksums(data []byte, changes map[string]string) ([]byte, error) {
	var doc yaml.Node
	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse manifest")
	}

	if len(doc.Content) == 0 {
		return nil, eris.New("manifest is empty")
	}

	deps := mappingValue(doc.Content[0], "deps")
	if deps == nil {
		return nil, eris.New("manifest has no deps section")
	}

	for name, checksum := range changes {
		section := mappingValue(deps, name)
		if section == nil || section.Kind != yaml.MappingNode {
			return nil, eris.Errorf("Failed to find the section for %s!", name)
		}

		field := mappingValue(section, "sha256")
		if field == nil {
			section.Content = append(section.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "sha256"},
				&yaml.Node{Kind: yaml.ScalarNode, Value: checksum},
			)
		} else {
			field.Value = checksum
			field.Tag = "!!str"
			field.Style = 0
		}
	}

	var buffer strings.Builder
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(2)
	if err = encoder.Encode(&doc); err != nil {
		return nil, eris.Wrap(err, "failed to encode manifest")
	}
	if err = encoder.Close(); err != nil {
		return nil, eris.Wrap(err, "failed to encode manifest")
	}

	return []byte(buffer.String()), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		if node.Content[idx].Value == key {
			return node.Content[idx+1]
		}
	}

	return nil
}
