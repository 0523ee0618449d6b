package health

// Checker is implemented by anything whose health can be reported on the /health endpoint.
type Checker interface {
	Check() error
}
