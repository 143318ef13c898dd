package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fxq/internal/qconfig"
)

// LoadFile reads a YAML (.yaml, .yml) or CUE (.cue) file into the plain
// map form the legacy normalizers accept.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data, path)
}

// Decode parses data as YAML or CUE, chosen by the extension of name.
func Decode(data []byte, name string) (map[string]any, error) {
	out := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, cueError(name, err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return nil, cueError(name, err)
		}
		if err := v.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .cue)", ext)
	}
	return out, nil
}

// Bundle is a configuration file holding one section per stage:
//
//	policy:  policy mapping ("global" is accepted for the "" key)
//	fuse:    fuse config
//	prepare: prepare config
//	convert: convert config
//	backend: backend config
//
// Missing sections take their defaults.
type Bundle struct {
	Policy  *qconfig.Mapping
	Fuse    *FuseConfig
	Prepare *PrepareConfig
	Convert *ConvertConfig
	Backend *BackendConfig
}

// Bundle section keys.
const (
	SectionPolicy  = "policy"
	SectionFuse    = "fuse"
	SectionPrepare = "prepare"
	SectionConvert = "convert"
	SectionBackend = "backend"
)

// LoadBundle reads and normalizes a bundle file. Files are a supported
// format, so no deprecation warning is logged for their map sections.
func LoadBundle(path string) (*Bundle, error) {
	d, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return BundleFromMap(d)
}

// BundleFromMap normalizes an already decoded bundle.
func BundleFromMap(d map[string]any) (*Bundle, error) {
	if err := checkKeys("bundle", d, SectionPolicy, SectionFuse, SectionPrepare, SectionConvert, SectionBackend); err != nil {
		return nil, err
	}
	b := &Bundle{
		Policy:  qconfig.NewMapping(),
		Fuse:    &FuseConfig{},
		Prepare: &PrepareConfig{},
		Convert: &ConvertConfig{},
		Backend: DefaultBackend(),
	}

	section := func(key string) (map[string]any, error) {
		return asMap("bundle", key, d[key])
	}

	if m, err := section(SectionPolicy); err != nil {
		return nil, err
	} else if m != nil {
		if g, ok := m["global"]; ok {
			m = copyMap(m)
			delete(m, "global")
			m[qconfig.KeyGlobal] = g
		}
		if b.Policy, err = qconfig.FromMap(m); err != nil {
			return nil, &Error{Kind: "bundle", Key: SectionPolicy, Message: "invalid policy mapping", Err: err}
		}
	}
	if m, err := section(SectionFuse); err != nil {
		return nil, err
	} else if m != nil {
		if b.Fuse, err = fuseFromMap(m); err != nil {
			return nil, err
		}
	}
	if m, err := section(SectionPrepare); err != nil {
		return nil, err
	} else if m != nil {
		if b.Prepare, err = prepareFromMap(m); err != nil {
			return nil, err
		}
	}
	if m, err := section(SectionConvert); err != nil {
		return nil, err
	} else if m != nil {
		if b.Convert, err = convertFromMap(m); err != nil {
			return nil, err
		}
	}
	if m, err := section(SectionBackend); err != nil {
		return nil, err
	} else if m != nil {
		if b.Backend, err = backendFromMap(m); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
