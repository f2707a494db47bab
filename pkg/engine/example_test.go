package engine_test

import (
	"fmt"
	"sync"

	"github.com/openfroyo/durastep/pkg/engine"
)

// ExampleKeyedMutex shows work on one identity being serialized while the
// lock table stays empty once nobody holds a key.
func ExampleKeyedMutex() {
	locks := engine.NewKeyedMutex()
	key := engine.IdentityKey("shopping-cart", "cart-1")

	var (
		wg    sync.WaitGroup
		total int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			total++
		}()
	}
	wg.Wait()

	fmt.Println(key, total, locks.Len())
	// Output: shopping-cart/cart-1 10 0
}

// ExampleEngineError shows decorating a sentinel without changing it.
func ExampleEngineError() {
	errBusy := engine.NewConflictError("machine busy", nil).WithCode(engine.ErrCodeAlreadyExists)

	err := errBusy.Clone().WithMessage("machine busy: FILLING").WithResource("machine-1")

	fmt.Println(engine.MessageOf(err))
	fmt.Println(engine.CodeOf(err), engine.IsConflict(err))
	fmt.Println(errBusy.Message)
	// Output:
	// machine busy: FILLING
	// ALREADY_EXISTS true
	// machine busy
}
