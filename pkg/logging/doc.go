// Package logging holds the process-wide [log/slog] logger.
//
// Programs call Init once at startup; libraries call GetLogger, WithTx or
// WithComponent and never build their own handlers. GetLogger installs an
// INFO text logger on stderr if nothing was installed yet.
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON}); err != nil {
//		return err
//	}
//	defer logging.Close()
//
//	logging.WithComponent("lock_table").Debug("lock granted", "resource", id.String())
package logging
