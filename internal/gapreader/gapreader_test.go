package gapreader

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gap = 100 * time.Millisecond

func trickle(t *testing.T, w net.Conn, data []byte, interval time.Duration) {
	for i := range data {
		time.Sleep(interval)
		if _, err := w.Write(data[i : i+1]); err != nil {
			t.Error(err)
			return
		}
	}
}

func TestReadFullTrickle(t *testing.T) {
	defer leaktest.Check(t)()
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	data := []byte("abcdefgh")
	go trickle(t, w, data, gap/2)

	// Total duration exceeds the gap, the gap between bytes does not.
	buf := make([]byte, len(data))
	start := time.Now()
	n, err := ReadFull(r, buf, gap)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
	assert.True(t, time.Since(start) > gap)
}

func TestReadFullGapTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	go trickle(t, w, []byte("ab"), 0)

	buf := make([]byte, 4)
	n, err := ReadFull(r, buf, gap)
	assert.Equal(t, ErrGapTimeout, err)
	assert.Equal(t, 2, n)
}

func TestReadFullPatient(t *testing.T) {
	defer leaktest.Check(t)()
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(3 * gap)
		_, _ = w.Write([]byte{0, 0, 0, 5})
	}()

	buf := make([]byte, 4)
	n, err := ReadFullPatient(r, buf, gap, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 5}, buf)
	<-done
}

func TestReadFullPatientStop(t *testing.T) {
	defer leaktest.Check(t)()
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	stopC := make(chan struct{})
	close(stopC)
	_, err := ReadFullPatient(r, make([]byte, 1), gap, stopC)
	assert.Equal(t, ErrStopped, err)
}

func TestReadFullEOF(t *testing.T) {
	defer leaktest.Check(t)()
	r, w := net.Pipe()
	defer r.Close()

	go func() {
		_, _ = w.Write([]byte("a"))
		w.Close()
	}()

	n, err := ReadFullPatient(r, make([]byte, 3), gap, nil)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, 1, n)

	_, err = ReadFull(r, make([]byte, 3), gap)
	assert.Error(t, err)
}
