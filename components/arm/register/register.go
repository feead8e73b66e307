// Package register registers all relevant arms
package register

import (
	// register arms.
	_ "github.com/armgaze/armgaze/components/arm/fake"
)
