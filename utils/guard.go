package utils

// Guard runs a cleanup when a constructor bails out after acquiring a resource (an open serial
// port, a dialed connection). Usage:
//
//	guard := NewGuard(func() { port.Close() })
//	defer guard.OnFail()
//	if err := handshake(port); err != nil {
//		return nil, err
//	}
//	guard.Success()
type Guard struct {
	OnFail  func()
	success bool
}

// NewGuard returns a Guard that calls onFailCleanup unless Success is called first.
func NewGuard(onFailCleanup func()) *Guard {
	ret := &Guard{}
	ret.OnFail = func() {
		if !ret.success {
			onFailCleanup()
		}
	}
	return ret
}

// Success disarms the cleanup.
func (guard *Guard) Success() {
	guard.success = true
}
