package data

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/mathx"
	"gopkg.in/yaml.v3"
)

// EntityDef is one entity from a level's spawn list, as key/value pairs.
type EntityDef map[string]string

// ClassName returns the entity's classname key.
func (d EntityDef) ClassName() string { return d["classname"] }

// Level is everything SpawnServer needs from a level file.
type Level struct {
	Name     string
	Message  string
	CDTrack  int
	Map      *bsp.Map
	Entities []EntityDef
	Models   []string
	Sounds   []string
}

type planeDef struct {
	Normal [3]float32 `yaml:"normal"`
	Dist   float32    `yaml:"dist"`
}

type nodeDef struct {
	Plane    int      `yaml:"plane"`
	Children [2]int32 `yaml:"children"` // negative c means leaf -(c+1)
}

type leafDef struct {
	Contents int32      `yaml:"contents"`
	Mins     [3]float32 `yaml:"mins"`
	Maxs     [3]float32 `yaml:"maxs"`
	// Either a list of visible leaf numbers or a compressed row in hex.
	Visible []int  `yaml:"visible"`
	VisHex  string `yaml:"vis_hex"`
}

type levelFile struct {
	Message   string      `yaml:"message"`
	CDTrack   int         `yaml:"cdtrack"`
	Submodels int         `yaml:"submodels"`
	Planes    []planeDef  `yaml:"planes"`
	Nodes     []nodeDef   `yaml:"nodes"`
	Leafs     []leafDef   `yaml:"leafs"`
	Entities  []EntityDef `yaml:"entities"`
	Precache  struct {
		Models []string `yaml:"models"`
		Sounds []string `yaml:"sounds"`
	} `yaml:"precache"`
}

// LoadLevel reads dir/name.yaml and prepares its visibility data.
func LoadLevel(dir, name string) (*Level, error) {
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level %s: %w", path, err)
	}
	var file levelFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse level %s: %w", path, err)
	}
	m, err := buildMap(name, &file)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", name, err)
	}
	return &Level{
		Name:     name,
		Message:  file.Message,
		CDTrack:  file.CDTrack,
		Map:      m,
		Entities: file.Entities,
		Models:   file.Precache.Models,
		Sounds:   file.Precache.Sounds,
	}, nil
}

func buildMap(name string, file *levelFile) (*bsp.Map, error) {
	m := &bsp.Map{Name: name, Submodels: file.Submodels}
	for _, p := range file.Planes {
		m.Planes = append(m.Planes, bsp.Plane{Normal: mathx.Vec3(p.Normal), Dist: p.Dist})
	}
	for _, n := range file.Nodes {
		m.Nodes = append(m.Nodes, bsp.Node{Plane: n.Plane, Children: n.Children})
	}
	numLeafs := len(file.Leafs) - 1
	for i, l := range file.Leafs {
		leaf := bsp.Leaf{
			Contents: l.Contents,
			VisOfs:   -1,
			Mins:     mathx.Vec3(l.Mins),
			Maxs:     mathx.Vec3(l.Maxs),
		}
		var row []byte
		switch {
		case l.VisHex != "":
			b, err := hex.DecodeString(l.VisHex)
			if err != nil {
				return nil, fmt.Errorf("leaf %d vis_hex: %w", i, err)
			}
			row = b
		case len(l.Visible) > 0:
			bits := make([]int, 0, len(l.Visible))
			for _, v := range l.Visible {
				if v < 1 || v > numLeafs {
					return nil, fmt.Errorf("leaf %d: visible leaf %d out of range", i, v)
				}
				bits = append(bits, v-1)
			}
			row = bsp.CompressVis(bsp.VisRow(numLeafs, bits))
		}
		if row != nil && i > 0 {
			leaf.VisOfs = len(m.VisData)
			m.VisData = append(m.VisData, row...)
		}
		m.Leafs = append(m.Leafs, leaf)
	}
	if err := m.Prepare(); err != nil {
		return nil, err
	}
	return m, nil
}

// LevelDir loads levels by name from a directory of YAML files.
type LevelDir struct {
	Dir string
}

func (d LevelDir) LoadLevel(name string) (*Level, error) {
	return LoadLevel(d.Dir, name)
}

// Names lists the levels available in the directory.
func (d LevelDir) Names() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, base[:len(base)-len(".yaml")])
	}
	sort.Strings(names)
	return names, nil
}
