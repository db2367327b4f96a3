// Package threadkeeper implements a community-support Discord bot built
// around forum channels.
//
// Threadkeeper tracks the lifecycle of every support post opened in a
// configured forum channel: it applies managed tags (unanswered, unsolved,
// solved, under review, priority), reminds authors of stale posts, closes
// and archives posts that were reminded but never answered, and lets
// authors and staff drive the same transitions explicitly via slash
// commands.
//
// Key components of the package include:
//
//   - Threadkeeper: The main struct wiring configuration, persistence,
//     the Discord gateway, the HTTP API and the periodic sweep together.
//   - LifecycleEngine: The support-post state machine (solve, unsolve,
//     review, reopen, remind, auto-close, archive handling).
//   - TagTranslator: Maps lifecycle states onto forum tag sets without
//     disturbing tags the bot doesn't manage.
//   - ReminderScheduler: Maintains at most one pending one-shot reminder
//     job per open post.
//   - ArchiveGuard: A short-lived marker that keeps the bot from
//     re-processing its own archive actions when the gateway echoes them.
//
// The bot supports various commands:
//
//   - /solve and /unsolve: mark a support post resolved, or not.
//   - /reopen: like /unsolve, but announced publicly with a reason.
//   - /review: flag a closed post for staff review, suspending automation.
//   - /priority: set or clear a post's priority tag (staff only).
//   - /bugreport: a short guided dialogue that files a bug report.
//   - /feature: submit a feature request with public voting buttons.
//
// State is persisted with GORM (SQLite or PostgreSQL); the periodic sweep
// and reminder dispatch run on a cron schedule inside the same process.
package threadkeeper
