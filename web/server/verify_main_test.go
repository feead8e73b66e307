package server

import (
	"testing"

	"github.com/armgaze/armgaze/testutils"
)

// TestMain is used to control the execution of all tests run within this package.
func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}
