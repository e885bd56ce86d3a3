package predict

import "errors"

var (
	// ErrInference is returned when the model call fails or returns output
	// that does not match the batch. It halts the run.
	ErrInference = errors.New("inference failed")

	// ErrMultiChannel is returned when a prediction has more than one channel.
	ErrMultiChannel = errors.New("prediction has multiple channels")

	// ErrNotFloat is returned when a prediction is not floating point.
	ErrNotFloat = errors.New("prediction is not floating point")

	// ErrDegenerateTransform is returned when a tile cannot be geo-referenced.
	ErrDegenerateTransform = errors.New("no usable geo-transform")

	// ErrLedger is returned when a tile outcome cannot be recorded in either
	// resume log. It halts the run.
	ErrLedger = errors.New("resume ledger append failed")
)
