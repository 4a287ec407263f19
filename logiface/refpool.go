package logiface

import (
	"sync"
)

type (
	refPoolItem struct {
		a any
		b any
	}
)

var (
	// used to store pairs of pointers, to avoid allocations - used to extend
	// functionality of existing implementations, using unsafe rather than
	// wrapping them a type which requires an allocation
	refPool = sync.Pool{New: func() interface{} { return new(refPoolItem) }}
)

func refPoolGet() *refPoolItem {
	return refPool.Get().(*refPoolItem)
}

func refPoolPut(item *refPoolItem) {
	*item = refPoolItem{}
	refPool.Put(item)
}
