package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// FreeString releases a string returned by any Sync* function.
//
//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {
	// Required for c-shared build mode; never runs inside the host app.
}
