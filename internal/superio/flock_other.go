//go:build !unix

package superio

import "os"

// Only the in-process mutex applies here.
func flock(*os.File) error { return nil }

func funlock(*os.File) {}
