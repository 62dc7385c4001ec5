package curtain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/tanema/gween/ease"
	"gopkg.in/yaml.v3"
)

// PrefabNode describes one node of a prefab hierarchy. Omitted scale, alpha
// and active fields keep the node defaults.
type PrefabNode struct {
	Name     string       `yaml:"name"`
	X        float64      `yaml:"x"`
	Y        float64      `yaml:"y"`
	ScaleX   *float64     `yaml:"scaleX"`
	ScaleY   *float64     `yaml:"scaleY"`
	Rotation float64      `yaml:"rotation"`
	Alpha    *float64     `yaml:"alpha"`
	Active   *bool        `yaml:"active"`
	Children []PrefabNode `yaml:"children"`
}

// TransitionSpec is the declarative form of a Transition.
type TransitionSpec struct {
	Kind     string           `yaml:"kind"` // fade, slide, zoom, parallel
	Duration float32          `yaml:"duration"`
	Ease     string           `yaml:"ease"`
	DX       float64          `yaml:"dx"`
	DY       float64          `yaml:"dy"`
	From     float64          `yaml:"from"`
	Parts    []TransitionSpec `yaml:"parts"`
}

// Prefab is a screen asset: a node hierarchy plus the view kind to attach to
// its root.
type Prefab struct {
	PrefabNode `yaml:",inline"`

	View       string          `yaml:"view"`
	Mount      string          `yaml:"mount"`
	Transition *TransitionSpec `yaml:"transition"`
}

// ParsePrefab decodes a YAML prefab document.
func ParsePrefab(data []byte) (*Prefab, error) {
	var p Prefab
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse prefab: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("parse prefab: root node has no name")
	}
	return &p, nil
}

// Build instantiates the node hierarchy. Each call returns a fresh tree.
func (p *PrefabNode) Build() *Node {
	n := NewNode(p.Name)
	n.X, n.Y = p.X, p.Y
	n.Rotation = p.Rotation
	if p.ScaleX != nil {
		n.ScaleX = *p.ScaleX
	}
	if p.ScaleY != nil {
		n.ScaleY = *p.ScaleY
	}
	if p.Alpha != nil {
		n.Alpha = *p.Alpha
	}
	if p.Active != nil {
		n.Active = *p.Active
	}
	for i := range p.Children {
		n.AddChild(p.Children[i].Build())
	}
	return n
}

var easeByName = map[string]ease.TweenFunc{
	"linear":       ease.Linear,
	"inquad":       ease.InQuad,
	"outquad":      ease.OutQuad,
	"inoutquad":    ease.InOutQuad,
	"incubic":      ease.InCubic,
	"outcubic":     ease.OutCubic,
	"inoutcubic":   ease.InOutCubic,
	"insine":       ease.InSine,
	"outsine":      ease.OutSine,
	"inoutsine":    ease.InOutSine,
	"inexpo":       ease.InExpo,
	"outexpo":      ease.OutExpo,
	"inoutexpo":    ease.InOutExpo,
	"inback":       ease.InBack,
	"outback":      ease.OutBack,
	"inoutback":    ease.InOutBack,
	"outbounce":    ease.OutBounce,
	"outelastic":   ease.OutElastic,
	"inoutelastic": ease.InOutElastic,
}

// EaseByName resolves an easing function name such as "outQuad" or
// "in-out-cubic". The empty name resolves to DefaultEase.
func EaseByName(name string) (ease.TweenFunc, bool) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	if norm == "" {
		return DefaultEase, true
	}
	fn, ok := easeByName[norm]
	return fn, ok
}

// Build converts the spec into a Transition.
func (s *TransitionSpec) Build() (Transition, error) {
	fn, ok := EaseByName(s.Ease)
	if !ok {
		return nil, fmt.Errorf("unknown ease %q", s.Ease)
	}
	switch strings.ToLower(s.Kind) {
	case "fade":
		return Fade{Duration: s.Duration, Ease: fn}, nil
	case "slide":
		return Slide{DX: s.DX, DY: s.DY, Duration: s.Duration, Ease: fn}, nil
	case "zoom":
		return Zoom{From: s.From, Duration: s.Duration, Ease: fn}, nil
	case "parallel":
		if len(s.Parts) == 0 {
			return nil, fmt.Errorf("parallel transition has no parts")
		}
		parts := make(Parallel, 0, len(s.Parts))
		for i := range s.Parts {
			t, err := s.Parts[i].Build()
			if err != nil {
				return nil, fmt.Errorf("part %d: %w", i, err)
			}
			parts = append(parts, t)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unknown transition kind %q", s.Kind)
	}
}

// ViewConstructor builds the view for an instantiated prefab. The loader
// attaches the returned view to root as a component.
type ViewConstructor func(root *Node, p *Prefab) (View, error)

// ScreenConstructor is the built-in "screen" view kind: a plain Screen with
// the prefab's mount and transition.
func ScreenConstructor(root *Node, p *Prefab) (View, error) {
	s := NewScreen(root)
	if p.Mount != "" {
		mount := root.FindChild(p.Mount)
		if mount == nil {
			return nil, fmt.Errorf("mount %q not found under %q", p.Mount, root.Name)
		}
		s.SetMount(mount)
	}
	if p.Transition != nil {
		t, err := p.Transition.Build()
		if err != nil {
			return nil, err
		}
		s.Transition = withHome(t, root.X, root.Y)
	}
	return s, nil
}

// withHome anchors every Slide in t, including Parallel parts, at the
// root's declared position.
func withHome(t Transition, x, y float64) Transition {
	switch tt := t.(type) {
	case Slide:
		tt.HomeX, tt.HomeY = x, y
		return tt
	case Parallel:
		parts := make(Parallel, len(tt))
		for i, part := range tt {
			parts[i] = withHome(part, x, y)
		}
		return parts
	default:
		return t
	}
}

// PrefabLoader instantiates YAML prefabs read from a file system. The
// address is the prefab's path in fsys.
type PrefabLoader struct {
	stage *Stage
	fsys  fs.FS

	mu    sync.RWMutex
	views map[string]ViewConstructor
	cache map[string]*Prefab
}

// NewPrefabLoader creates a loader with the built-in "screen" view kind.
func NewPrefabLoader(stage *Stage, fsys fs.FS) *PrefabLoader {
	return &PrefabLoader{
		stage: stage,
		fsys:  fsys,
		views: map[string]ViewConstructor{"screen": ScreenConstructor},
		cache: make(map[string]*Prefab),
	}
}

// RegisterView adds or replaces a view kind.
func (l *PrefabLoader) RegisterView(kind string, c ViewConstructor) {
	l.mu.Lock()
	l.views[kind] = c
	l.mu.Unlock()
}

func (l *PrefabLoader) prefab(address string) (*Prefab, error) {
	l.mu.RLock()
	p, ok := l.cache[address]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}
	data, err := fs.ReadFile(l.fsys, address)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
		}
		return nil, err
	}
	p, err = ParsePrefab(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", address, err)
	}
	l.mu.Lock()
	l.cache[address] = p
	l.mu.Unlock()
	return p, nil
}

// Instantiate builds the prefab at address and parents it under parent.
func (l *PrefabLoader) Instantiate(ctx context.Context, address string, parent *Node) (Handle, error) {
	p, err := l.prefab(address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := p.Build()
	if p.View != "" {
		l.mu.RLock()
		ctor, ok := l.views[p.View]
		l.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%s: unknown view kind %q", address, p.View)
		}
		v, err := ctor(root, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", address, err)
		}
		root.AddComponent(v)
	}
	return attach(l.stage, root, parent), nil
}
