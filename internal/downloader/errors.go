package downloader

import "errors"

var (
	// ErrZeroLength means the server reported a zero-byte file. Nothing
	// is written and the item is not retried.
	ErrZeroLength = errors.New("server reports zero-length file")

	// ErrInsufficientSpace means the filesystem under the download
	// folder has less free space than required.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrSizeMismatch means the observed byte count differs from the
	// server-reported length. The partial is deleted and the transfer
	// retried once.
	ErrSizeMismatch = errors.New("downloaded size does not match server length")

	// ErrSlowSpeed means throughput stayed below the configured slow
	// threshold for a sustained interval; the transfer is canceled and
	// re-entered.
	ErrSlowSpeed = errors.New("download speed below threshold")
)
