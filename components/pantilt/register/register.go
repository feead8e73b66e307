// Package register registers all relevant pan/tilt heads
package register

import (
	// register pan/tilt heads.
	_ "github.com/armgaze/armgaze/components/pantilt/fake"
	_ "github.com/armgaze/armgaze/components/pantilt/ptu"
)
