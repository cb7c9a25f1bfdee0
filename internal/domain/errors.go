package domain

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrConnection           = errors.New("connection failed")
	ErrRead                 = errors.New("read failed")
	ErrWrite                = errors.New("write failed")
	ErrSensorNotFound       = errors.New("sensor not found")
	ErrFeatureNotSupported  = errors.New("feature not supported")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrTimeout              = errors.New("operation timed out")
	ErrTransaction          = errors.New("transaction failed")
	ErrSerialization        = errors.New("serialization error")
	ErrTimeRange            = errors.New("invalid time range")
	ErrInvalidData          = errors.New("invalid data format")
	ErrUnavailable          = errors.New("database unavailable")
)

// ErrDatasetNotFound matches ErrSensorNotFound under errors.Is.
var ErrDatasetNotFound = &notFoundError{msg: "dataset not found"}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrSensorNotFound }

// IsRetryable reports whether the operation may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// IsConnectionError reports whether err stems from backend connectivity.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrUnavailable)
}
