package player

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newDetachedSession(id string) *ViewerSession {
	return &ViewerSession{
		SessionID: id,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
	}
}

func TestSessionDistrictRoundTrip(t *testing.T) {
	s := newDetachedSession("s1")
	assert.Equal(t, 0, s.District())
	s.SetDistrict(3)
	assert.Equal(t, 3, s.District())
	s.SetDistrict(0)
	assert.Equal(t, 0, s.District())
}

func TestSessionStateConcurrentAccess(t *testing.T) {
	s := newDetachedSession("s1")

	// The read pump mutates district and position while the admin listing
	// and the room loop read them from other goroutines.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.SetDistrict(i % 5)
			s.SetPosition(float64(i), float64(-i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.District()
			_, _ = s.Position()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.ResetDirty()
		}
	}()
	wg.Wait()

	s.SetDistrict(7)
	assert.Equal(t, 7, s.District())
}
