// Package codetable loads the externally produced code image an engine runs
// from: a blob of 32-bit x86 machine code plus a table of named entry points.
//
// An image is described by a YAML manifest:
//
//	base: 0x40000000
//	code: target.bin        # relative to the manifest
//	entries:
//	  test_target2: 0x120
//
// code_hex may be used instead of code to inline small images.
package codetable

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/weiihann/vcpubench/engine"
)

const pageSize = 0x1000

type manifest struct {
	Base    uint32            `yaml:"base"`
	Code    string            `yaml:"code"`
	CodeHex string            `yaml:"code_hex"`
	Entries map[string]uint32 `yaml:"entries"`
}

// Image is a loaded code table.
type Image struct {
	Base    uint32
	Code    []byte
	Entries engine.MapTable
}

var _ engine.Table = (*Image)(nil)

// Load reads the manifest at path and the code it references.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	img, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return img, nil
}

// Parse decodes a manifest. Relative code paths are resolved against dir.
func Parse(data []byte, dir string) (*Image, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	img := &Image{
		Base:    m.Base,
		Entries: make(engine.MapTable, len(m.Entries)),
	}

	switch {
	case m.Code != "" && m.CodeHex != "":
		return nil, fmt.Errorf("manifest sets both code and code_hex")

	case m.Code != "":
		path := m.Code
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read code %s: %w", path, err)
		}
		img.Code = code

	case m.CodeHex != "":
		code, err := hex.DecodeString(strings.Join(strings.Fields(m.CodeHex), ""))
		if err != nil {
			return nil, fmt.Errorf("decode code_hex: %w", err)
		}
		img.Code = code

	default:
		return nil, fmt.Errorf("manifest has no code")
	}

	for name, off := range m.Entries {
		img.Entries[name] = engine.EntryPoint(off)
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}

	return img, nil
}

// Validate checks that the image can be mapped and every entry lies inside
// the code.
func (img *Image) Validate() error {
	if len(img.Code) == 0 {
		return fmt.Errorf("image is empty")
	}
	if img.Base%pageSize != 0 {
		return fmt.Errorf("base 0x%x is not page aligned", img.Base)
	}
	if uint64(img.Base)+uint64(len(img.Code)) > engine.ArenaLimit {
		return fmt.Errorf("image at 0x%x+0x%x overlaps the return sentinel page",
			img.Base, len(img.Code))
	}
	if len(img.Entries) == 0 {
		return fmt.Errorf("image has no entry points")
	}

	for name, ep := range img.Entries {
		if int(ep) >= len(img.Code) {
			return fmt.Errorf("entry %s at 0x%x is outside the code (0x%x bytes)",
				name, uint32(ep), len(img.Code))
		}
	}

	return nil
}

// MappedSize returns the code size rounded up to whole pages.
func (img *Image) MappedSize() uint64 {
	return (uint64(len(img.Code)) + pageSize - 1) &^ (pageSize - 1)
}

// Lookup returns the code offset registered under name.
func (img *Image) Lookup(name string) (engine.EntryPoint, bool) {
	return img.Entries.Lookup(name)
}

// Names returns the entry point names in sorted order.
func (img *Image) Names() []string { return img.Entries.Names() }
