// Package runner drives a curtain Stage from an Ebitengine game loop.
//
// Screen operations block until their transitions finish, so they run on
// their own goroutines while Game.Update advances the stage every tick:
//
//	game := runner.NewGame(stage, runner.Config{Title: "demo", Width: 800, Height: 600})
//	go func() { _, _ = ctrl.Show(ctx, "Home", curtain.Animated) }()
//	log.Fatal(runner.Run(game))
package runner

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/phanxgames/curtain"
)

// Config configures a Game.
type Config struct {
	Title         string
	Width, Height int
	Background    color.Color

	// OnUpdate runs after the stage has advanced. Returning ebiten.Termination
	// ends the loop cleanly.
	OnUpdate func(dt float32) error
	// OnDraw runs after the background is filled.
	OnDraw func(screen *ebiten.Image)
	// ShowTree prints the active part of the node tree in the corner.
	ShowTree bool
}

// Game adapts a Stage to ebiten.Game.
type Game struct {
	stage *curtain.Stage
	cfg   Config
	ticks uint64
}

// NewGame creates a game that ticks stage. Zero sizes default to 800x600.
func NewGame(stage *curtain.Stage, cfg Config) *Game {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	if cfg.Background == nil {
		cfg.Background = color.RGBA{R: 24, G: 24, B: 32, A: 255}
	}
	return &Game{stage: stage, cfg: cfg}
}

// Update advances the stage by one tick.
func (g *Game) Update() error {
	dt := float32(1.0 / float64(ebiten.TPS()))
	return g.step(dt)
}

func (g *Game) step(dt float32) error {
	g.ticks++
	g.stage.Update(dt)
	if g.cfg.OnUpdate != nil {
		return g.cfg.OnUpdate(dt)
	}
	return nil
}

// Ticks returns the number of updates so far.
func (g *Game) Ticks() uint64 {
	return g.ticks
}

// Draw fills the background, runs OnDraw and optionally prints the tree.
func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(g.cfg.Background)
	if g.cfg.OnDraw != nil {
		g.cfg.OnDraw(screen)
	}
	if g.cfg.ShowTree {
		ebitenutil.DebugPrintAt(screen, Describe(g.stage), 4, 4)
	}
}

// Layout returns the configured logical screen size.
func (g *Game) Layout(_, _ int) (int, int) {
	return g.cfg.Width, g.cfg.Height
}

// Run opens the window and blocks until the game ends. ebiten.Termination
// is treated as a clean exit.
func Run(g *Game) error {
	if g.cfg.Title != "" {
		ebiten.SetWindowTitle(g.cfg.Title)
	}
	ebiten.SetWindowSize(g.cfg.Width, g.cfg.Height)
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return fmt.Errorf("run game: %w", err)
	}
	return nil
}

// Describe renders the effectively active nodes under the stage's active
// root as an indented outline.
func Describe(stage *curtain.Stage) string {
	var b strings.Builder
	stage.Do(func() {
		describe(&b, stage.ActiveRoot(), 0)
	})
	return b.String()
}

func describe(b *strings.Builder, n *curtain.Node, depth int) {
	if !n.Active {
		return
	}
	fmt.Fprintf(b, "%s%s", strings.Repeat("  ", depth), n.Name)
	if n.Alpha < 1 {
		fmt.Fprintf(b, " a=%.2f", n.Alpha)
	}
	b.WriteByte('\n')
	for _, c := range n.Children() {
		describe(b, c, depth+1)
	}
}
