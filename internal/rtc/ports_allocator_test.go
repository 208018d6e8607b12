package rtc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortsAllocator(t *testing.T) {
	_, err := NewPortsAllocator(20010, 20000)
	assert.Equal(t, errInvalidPortRange, err)

	_, err = NewPortsAllocator(0, 10)
	assert.Equal(t, errInvalidPortRange, err)

	_, err = NewPortsAllocator(65000, 70000)
	assert.Equal(t, errInvalidPortRange, err)

	// no room for the RTCP port
	_, err = NewPortsAllocator(20000, 20000)
	assert.Equal(t, errInvalidPortRange, err)

	_, err = NewPortsAllocator(20001, 20002)
	assert.Equal(t, errInvalidPortRange, err)

	p, err := NewPortsAllocator(20000, 20001)
	require.Nil(t, err)
	assert.Equal(t, 1, p.Available())

	p, err = NewPortsAllocator(20000, 20999)
	require.Nil(t, err)
	assert.Equal(t, 500, p.Available())
}

func TestPortsAllocatorAllocate(t *testing.T) {
	p, err := NewPortsAllocator(20000, 20005)
	require.Nil(t, err)

	for _, want := range []int{20000, 20002, 20004} {
		port, err := p.Allocate()
		assert.Nil(t, err)
		assert.Equal(t, want, port)
	}

	_, err = p.Allocate()
	assert.Equal(t, ErrNoFreePorts, err)
	assert.Equal(t, 3, p.Reserved())
	assert.Equal(t, 0, p.Available())

	p.Deallocate(20002)

	port, err := p.Allocate()
	assert.Nil(t, err)
	assert.Equal(t, 20002, port)
}

func TestPortsAllocatorOddRangeStart(t *testing.T) {
	p, err := NewPortsAllocator(20001, 20006)
	require.Nil(t, err)

	for _, want := range []int{20002, 20004} {
		port, err := p.Allocate()
		assert.Nil(t, err)
		assert.Equal(t, want, port)
	}

	_, err = p.Allocate()
	assert.Equal(t, ErrNoFreePorts, err)
}

func TestPortsAllocatorAudioAndVideoOfPeer(t *testing.T) {
	p, err := NewPortsAllocator(20000, 20999)
	require.Nil(t, err)

	audio, err := p.Allocate()
	require.Nil(t, err)
	video, err := p.Allocate()
	require.Nil(t, err)

	assert.Equal(t, 20000, audio)
	assert.NotEqual(t, audio+1, video, "RTCP port of audio is given to video")
	assert.Equal(t, 20002, video)
}

func TestPortsAllocatorDeallocateIsIdempotent(t *testing.T) {
	p, err := NewPortsAllocator(20000, 20003)
	require.Nil(t, err)

	port, err := p.Allocate()
	require.Nil(t, err)

	// RTCP port of the pair is not a handle
	p.Deallocate(port + 1)
	assert.Equal(t, 1, p.Reserved())

	p.Deallocate(port)
	p.Deallocate(port)
	p.Deallocate(20002)
	p.Deallocate(30000)

	assert.Equal(t, 0, p.Reserved())
	assert.Equal(t, 2, p.Available())
}

func TestPortsAllocatorConcurrentAllocate(t *testing.T) {
	const pairs = 100

	p, err := NewPortsAllocator(20000, 20000+2*pairs-1)
	require.Nil(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[int]int)
		fails int
	)

	for i := 0; i < pairs+50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			port, err := p.Allocate()

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				fails++
				return
			}
			seen[port]++
			seen[port+1]++
		}()
	}
	wg.Wait()

	assert.Equal(t, 2*pairs, len(seen))
	assert.Equal(t, 50, fails)
	for port, n := range seen {
		assert.Equal(t, 1, n, "port %d handed out twice", port)
	}
}

func TestPortsAllocatorConcurrentChurn(t *testing.T) {
	p, err := NewPortsAllocator(20000, 20009)
	require.Nil(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		owned = make(map[int]bool)
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				port, err := p.Allocate()
				if err != nil {
					continue
				}

				mu.Lock()
				if owned[port] || owned[port+1] {
					mu.Unlock()
					t.Errorf("pair %d is owned twice", port)
					return
				}
				owned[port] = true
				owned[port+1] = true
				mu.Unlock()

				mu.Lock()
				delete(owned, port)
				delete(owned, port+1)
				mu.Unlock()

				p.Deallocate(port)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, p.Reserved())
}
