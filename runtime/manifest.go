package runtime

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

// ManifestName is the file a mod directory must carry.
const ManifestName = "mod.yaml"

// Manifest declares a mod's identity, required runtime kind, and entry
// file, relative to the mod directory.
type Manifest struct {
	ID      string        `yaml:"id"`
	Runtime staminal.Kind `yaml:"runtime"`
	Entry   string        `yaml:"entry"`
}

// LoadManifest reads and validates dir/mod.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Manifest(path, err)
	}

	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, errors.Manifest(path, err)
	}
	if err := man.validate(); err != nil {
		return nil, err
	}
	return &man, nil
}

func (m *Manifest) validate() error {
	if m.ID == "" {
		return errors.InvalidInput(errors.PhaseManifest, "missing id")
	}
	if m.Entry == "" {
		return errors.InvalidInput(errors.PhaseManifest, "missing entry")
	}
	switch m.Runtime {
	case staminal.KindLua, staminal.KindGoScript, staminal.KindWASM:
		return nil
	case "":
		// The entry suffix decides when the manifest stays silent.
		kind, ok := staminal.KindForPath(m.Entry)
		if !ok {
			return errors.UnsupportedRuntime(filepath.Ext(m.Entry))
		}
		m.Runtime = kind
		return nil
	default:
		return errors.UnsupportedRuntime(string(m.Runtime))
	}
}
