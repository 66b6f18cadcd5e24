package execution

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// retryBackoff returns a full-jitter delay for the given attempt count:
// uniform in [0, min(cap, base*2^attempt)].
func retryBackoff(attempt int) time.Duration {
	ceiling := backoffBase << uint(attempt)
	if ceiling > backoffCap || ceiling <= 0 {
		ceiling = backoffCap
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}
