package utils

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const tranIDRandomLength = 12
const letterBytes = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMu     sync.Mutex
)

// GenerateTransactionID produces the correlation key for one purchase
// attempt. The gateway limits tran_id to 30 characters, so the format is
// a short prefix, a date stamp and a random suffix.
func GenerateTransactionID() string {
	b := make([]byte, tranIDRandomLength)
	randMu.Lock()
	for i := range b {
		b[i] = letterBytes[seededRand.Intn(len(letterBytes))]
	}
	randMu.Unlock()

	return fmt.Sprintf("LMS%s%s", time.Now().Format("060102"), string(b))
}
