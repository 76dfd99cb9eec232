package domain

// ErrorKind is the failure class assigned by the recovery classifier.
type ErrorKind string

const (
	ErrorKindStream     ErrorKind = "stream_error"
	ErrorKindPermission ErrorKind = "permission_error"
	ErrorKindNotFound   ErrorKind = "file_not_found"
	ErrorKindNetwork    ErrorKind = "network_error"
	ErrorKindDisk       ErrorKind = "disk_error"
	ErrorKindUnknown    ErrorKind = "unknown_error"
)

// ErrorKinds lists every kind in classification order.
var ErrorKinds = []ErrorKind{
	ErrorKindStream,
	ErrorKindPermission,
	ErrorKindNotFound,
	ErrorKindNetwork,
	ErrorKindDisk,
	ErrorKindUnknown,
}

// Recoverable reports whether exhausting the retry budget for this kind
// restarts the component instead of terminating the watch loop.
func (k ErrorKind) Recoverable() bool {
	return k == ErrorKindStream || k == ErrorKindNotFound
}
