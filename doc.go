// Package cinema switches a tactical 2D scene between its battle map
// presentation and a cinematic, visual-novel style staging, and back, for
// [Ebitengine].
//
// The entry point is [Controller.SetMode]. Activating cinematic mode forces
// global light on, snapshots the camera, hides the tactical layers behind a
// full-scene background, frames the scene, and stages every token: its
// battle position is remembered, its last staged position and portrait are
// applied in one teleport update, and its mesh is depth scaled by its
// vertical position. Deactivating reverses every step from the remembered
// state, so the battle map comes back exactly as it was left.
//
// # Host
//
// The controller consumes one [Host] struct, filled once at startup:
//
//	stage := cinema.NewStage(cinema.Rect{Width: 1280, Height: 720})
//	board, _ := cinema.NewBoard(ctx, stage, cinema.BoardConfig{
//		SceneID: "tavern", Width: 2000, Height: 1500, GridSize: 100,
//	}, textures, nil)
//
//	ctrl, err := cinema.NewController(cinema.Host{
//		Scene:    board,
//		Tokens:   board,
//		Stage:    stage,
//		Flags:    cinema.NewMemoryFlags(),
//		Settings: settings,
//		User:     cinema.User{ID: "gm", GM: true},
//		Textures: textures,
//	})
//
// [Board] is an in-memory host; a real virtual tabletop implements
// [SceneDocument] and [TokenLayer] itself. Durable flags can live in SQLite
// (package cinema/sqlite) and be fanned out to other viewers over a
// websocket (package cinema/relay).
//
// # Rendering
//
// [Stage] owns the node tree, the camera and the property animator. Drive it
// from an [ebiten.Game]:
//
//	func (g *Game) Update() error        { g.stage.Update(1.0 / 60); return nil }
//	func (g *Game) Draw(s *ebiten.Image) { g.stage.Draw(s) }
//
// Transitions run on their own goroutine; every scene graph mutation they make
// goes through [Stage.Do]. Since SetMode waits for camera pans, never call it
// from Update itself.
//
// A scene's mood grades the whole frame through a color matrix shader
// ([MoodGrade], [Stage.SetGrade]). [Stage.Stats], [Stage.SetDebug] and
// [Stage.Screenshot] help while tuning a scene.
//
// [Ebitengine]: https://ebitengine.org
package cinema
