package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urmzd/ninho/pkg/device"
	"gopkg.in/yaml.v3"
)

// Manifest describes a firmware build on disk.
//
//	chip: esp32
//	flash_size: 4MB
//	segments:
//	  - name: bootloader.bin
//	    role: bootloader
//	    offset: 0x1000
//	    path: build/bootloader.bin
type Manifest struct {
	Chip      string            `yaml:"chip"`
	Version   string            `yaml:"version"`
	FlashSize Size              `yaml:"flash_size"`
	Segments  []ManifestSegment `yaml:"segments"`

	dir string
}

// ManifestSegment is one entry of a manifest.
type ManifestSegment struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Offset Offset `yaml:"offset"`
	Path   string `yaml:"path"`
}

// Offset accepts "0x10000", "65536" or a plain YAML integer.
type Offset uint32

func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.ParseUint(strings.TrimSpace(node.Value), 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid offset %q", node.Line, node.Value)
	}
	*o = Offset(v)
	return nil
}

// Size accepts byte counts with an optional KB or MB suffix.
type Size uint32

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = Size(v)
	return nil
}

// ParseSize parses "4MB", "512KB", "0x400000" or "4194304".
func ParseSize(s string) (uint32, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(str, "MB"):
		mult, str = 1<<20, strings.TrimSuffix(str, "MB")
	case strings.HasSuffix(str, "KB"):
		mult, str = 1<<10, strings.TrimSuffix(str, "KB")
	}

	v, err := strconv.ParseUint(strings.TrimSpace(str), 0, 32)
	if err != nil || v*mult > 1<<32-1 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return uint32(v * mult), nil
}

// LoadManifest reads a YAML manifest. Segment paths are resolved relative to
// the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrInvalidFirmware, err)
	}
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no segments", device.ErrInvalidFirmware)
	}
	for i, s := range m.Segments {
		if s.Path == "" {
			return nil, fmt.Errorf("%w: segment %d has no path", device.ErrInvalidFirmware, i)
		}
		if s.Name == "" {
			m.Segments[i].Name = filepath.Base(s.Path)
		}
	}
	return &m, nil
}

// Resolve makes a segment path relative to the manifest's directory.
func (m *Manifest) Resolve(path string) string {
	if filepath.IsAbs(path) || m.dir == "" {
		return path
	}
	return filepath.Join(m.dir, path)
}

// Layout returns the manifest's segments without data, named by file name so
// uploaded files can be matched against them.
func (m *Manifest) Layout() []device.Segment {
	layout := make([]device.Segment, 0, len(m.Segments))
	for _, s := range m.Segments {
		layout = append(layout, device.Segment{
			Name:   filepath.Base(s.Path),
			Role:   device.SegmentRole(s.Role),
			Offset: uint32(s.Offset),
		})
	}
	return layout
}

// Image reads every segment file. A missing file is an error; an empty file
// becomes an empty segment that the flasher skips.
func (m *Manifest) Image() (device.Image, error) {
	var img device.Image
	for _, s := range m.Segments {
		data, err := os.ReadFile(m.Resolve(s.Path))
		if err != nil {
			return device.Image{}, fmt.Errorf("%w: %s: %v", device.ErrInvalidFirmware, s.Name, err)
		}

		img.Segments = append(img.Segments, device.Segment{
			Name:   s.Name,
			Role:   device.SegmentRole(s.Role),
			Offset: uint32(s.Offset),
			Data:   data,
		})
	}

	if err := Validate(img, uint32(m.FlashSize)); err != nil {
		return device.Image{}, err
	}
	return img, nil
}
