// Package curtain is a screen manager for retained-mode 2D games built on
// [Ebitengine].
//
// Curtain maps string screen keys to lazily instantiated view hierarchies,
// shows and hides them with animated or instant transitions, parks hidden
// screens for reuse or releases them, and nests subscreens inside host
// screens.
//
// # Quick start
//
// A [Controller] needs a [Stage] (the node tree), a [Registry] (key to
// address) and an [AssetLoader] (address to instance):
//
//	stage := curtain.NewStage()
//	loader := curtain.NewPrefabLoader(stage, os.DirFS("assets"))
//	registry, _ := curtain.LoadRegistry(os.DirFS("assets"), "screens.yaml")
//
//	ctrl, _ := curtain.NewController(curtain.ControllerConfig{
//		Stage: stage, Registry: registry, Loader: loader,
//	})
//
// Every controller operation blocks until its transition has finished, so
// call them from a goroutine while the game loop advances the stage with
// [Stage.Update] (the runner package does this for you):
//
//	go func() {
//		home, err := ctrl.Show(ctx, "Home", curtain.Animated)
//		...
//		_ = ctrl.Hide(ctx, "Home", curtain.Deactivate, curtain.Animated)
//	}()
//
// # Screens
//
// A screen is any node hierarchy carrying a component that implements
// [View]. Embed [*Screen] to get the show/hide state machine, lifecycle
// hooks and transitions:
//
//	type Inventory struct{ *curtain.Screen }
//
// Typed access goes through [LoadAs], [GetAs] and [ShowAs].
//
// After-show and after-hide hooks, like controller signals, run once the
// operation has released the screen's key, so they may call back into the
// controller (for example to mount a subscreen). Before hooks run with the
// key held and must not.
//
// # Hiding
//
// [Deactivate] parks a hidden screen under the stage's inactive root so the
// next show reuses the same instance. [Unload] releases the instance; the
// next show instantiates a fresh one.
//
// # Subscreens
//
// A view implementing [SubscreenHost] exposes a mount node. [Controller.ShowSubscreen]
// parents a second screen under it; hiding or unloading the host takes the
// subscreen with it.
//
// # Errors
//
// Setup mistakes surface as [*ScreenError] values wrapping sentinels such as
// [ErrNotRegistered] or [ErrNoView]. Cancellation returns the context's own
// error; check it with [IsCancelled]. Hide never fails because of a broken
// transition: the failure is logged and the screen is hidden anyway.
//
// # Logging
//
// Curtain logs through [log/slog]. Use [SetLogger] or [SetRawLogLevel] to
// route or filter it.
//
// [Ebitengine]: https://ebitengine.org
package curtain
