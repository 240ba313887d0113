package easel

import "log/slog"

// nopLogger discards all output. Components log nothing unless a logger
// is supplied via their WithLogger-style options.
var nopLogger = slog.New(slog.DiscardHandler)
