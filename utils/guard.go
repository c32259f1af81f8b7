package utils

// Guard runs a cleanup on early return unless the function reached Success.
//
//	guard := NewGuard(func() { f.Close() })
//	defer guard.OnFail()
//	if err != nil { return err }
//	guard.Success()
type Guard struct {
	OnFail  func()
	success bool
}

// NewGuard returns a Guard that calls cleanup from OnFail until Success is called.
func NewGuard(cleanup func()) *Guard {
	ret := &Guard{}
	ret.OnFail = func() {
		if !ret.success {
			cleanup()
		}
	}
	return ret
}

// Success disarms the guard.
func (guard *Guard) Success() {
	guard.success = true
}
