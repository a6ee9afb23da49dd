package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"gopkg.in/yaml.v3"
)

type bindingDoc struct {
	Channel   uint8  `yaml:"channel"`
	Type      string `yaml:"type"`
	Number    uint8  `yaml:"number"`
	Command   string `yaml:"command"`
	Direction string `yaml:"direction,omitempty"`
	Mode      string `yaml:"mode,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
}

type profileDoc struct {
	Name     string       `yaml:"name"`
	Bindings []bindingDoc `yaml:"bindings"`
}

// YAMLPersister stores profiles as YAML documents.
type YAMLPersister struct{}

// LoadProfile reads and decodes the profile at path. Unknown keys are rejected.
func (YAMLPersister) LoadProfile(path string) (contracts.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contracts.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p, err := DecodeProfile(data)
	if err != nil {
		return contracts.Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	if p.Name == "" {
		p.Name = trimExt(filepath.Base(path))
	}
	return p, nil
}

// SaveProfile writes profile to path through a temporary file in the same directory.
func (YAMLPersister) SaveProfile(profile contracts.Profile, path string) error {
	data, err := EncodeProfile(profile)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".profile-*")
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// DecodeProfile parses a YAML profile document.
func DecodeProfile(data []byte) (contracts.Profile, error) {
	var doc profileDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return contracts.Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	p := contracts.Profile{Name: doc.Name, Bindings: make([]contracts.CommandBinding, 0, len(doc.Bindings))}
	for i, b := range doc.Bindings {
		typ, err := contracts.ParseMessageType(b.Type)
		if err != nil {
			return contracts.Profile{}, fmt.Errorf("binding %d: %w", i, err)
		}
		dir, err := contracts.ParseDirection(b.Direction)
		if err != nil {
			return contracts.Profile{}, fmt.Errorf("binding %d: %w", i, err)
		}
		mode, err := contracts.ParseControlMode(b.Mode)
		if err != nil {
			return contracts.Profile{}, fmt.Errorf("binding %d: %w", i, err)
		}
		kind, err := contracts.ParseCommandKind(b.Kind)
		if err != nil {
			return contracts.Profile{}, fmt.Errorf("binding %d: %w", i, err)
		}
		p.Bindings = append(p.Bindings, contracts.CommandBinding{
			Address:   contracts.MidiAddress{Channel: b.Channel, Type: typ, Number: b.Number},
			Command:   contracts.CommandID(b.Command),
			Direction: dir,
			Mode:      mode,
			Kind:      kind,
		})
	}
	return p, nil
}

// EncodeProfile renders profile as YAML. Defaults are omitted.
func EncodeProfile(profile contracts.Profile) ([]byte, error) {
	doc := profileDoc{Name: profile.Name, Bindings: make([]bindingDoc, 0, len(profile.Bindings))}
	for _, b := range profile.Bindings {
		d := bindingDoc{
			Channel: b.Address.Channel,
			Type:    b.Address.Type.String(),
			Number:  b.Address.Number,
			Command: string(b.Command),
		}
		if b.Direction != contracts.Bidirectional {
			d.Direction = b.Direction.String()
		}
		if b.Mode != contracts.Absolute {
			d.Mode = b.Mode.String()
		}
		if b.Kind != contracts.KindAuto {
			d.Kind = b.Kind.String()
		}
		doc.Bindings = append(doc.Bindings, d)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return buf.Bytes(), nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
