package logging

import "log/slog"

// WithTx returns a logger that tags every record with the transaction ID.
func WithTx(txID int64) *slog.Logger {
	return GetLogger().With("tx_id", txID)
}

func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
