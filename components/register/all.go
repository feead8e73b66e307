// Package register registers all components
package register

import (
	// register components.
	_ "github.com/armgaze/armgaze/components/arm/register"
	_ "github.com/armgaze/armgaze/components/pantilt/register"
)
