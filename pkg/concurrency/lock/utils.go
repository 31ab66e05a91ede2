package lock

// Older reports whether a began before b. Equal timestamps are ordered by
// transaction ID so that any two distinct transactions are comparable.
func Older(a, b Txn) bool {
	ta, tb := a.Timestamp(), b.Timestamp()
	if ta != tb {
		return ta < tb
	}
	return a.ID() < b.ID()
}
