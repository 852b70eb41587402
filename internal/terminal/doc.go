// Package terminal owns persistent, multi-viewer shell sessions.
//
// A session spawns one shell through a Spawner (pseudo-terminal where the host
// supports it, plain pipes otherwise), drains its output on a dedicated read
// loop, keeps a bounded history for late joiners, and fans every chunk out to
// the viewers attached through its Hub. Sessions outlive their viewers: a
// session with zero viewers keeps running until its process exits or it is
// terminated explicitly.
//
// Components:
//   - Process / Spawner: uniform read/write/resize/terminate contract over a shell
//   - History: capacity-bounded byte ring, oldest bytes evicted first
//   - Hub: per-session viewer set with bounded per-viewer queues
//   - Events: dashboard-wide broadcast of session lifecycle changes
//   - Registry: the id → session table; the only place sessions are created or removed
//   - Store: optional session metadata persistence across restarts
//
// Replay guarantee: Hub.Attach snapshots history and subscribes the viewer in
// one critical section shared with the read loop's append-and-fan-out, so the
// replayed history followed by the live frames is exactly the byte stream the
// process produced, with no gap and no duplicate.
//
// Example Usage:
//
//	spawner, _ := terminal.NewSpawner(terminal.ModeAuto, logger)
//	reg := terminal.NewRegistry(spawner, terminal.DefaultOptions(), logger)
//	sess, err := reg.Create(ctx, terminal.CreateOptions{Cwd: "/tmp"})
//	sub := sess.Attach(string(id.NewViewerID()))
//	for frame := range sub.Frames() {
//		// history first, then output..., then exited
//	}
//	_ = reg.Terminate(sess.ID())
package terminal
