package reader_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/umccr/cloud-checksum/pkg/reader"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan reader.Chunk) ([]byte, error) {
	t.Helper()
	var buf bytes.Buffer
	for chunk := range ch {
		if chunk.Err != nil {
			return buf.Bytes(), chunk.Err
		}
		buf.Write(chunk.Data)
	}
	return buf.Bytes(), nil
}

func TestReaderFanOutConsistency(t *testing.T) {
	data := make([]byte, 10*1024+37)
	for i := range data {
		data[i] = byte(i)
	}

	r := reader.New(bytes.NewReader(data), 1024, 2)

	const subscriberCount = 4
	subs := make([]<-chan reader.Chunk, subscriberCount)
	for i := range subs {
		ch, err := r.Subscribe()
		require.NoError(t, err)
		subs[i] = ch
	}

	results := make([][]byte, subscriberCount)
	errs := make([]error, subscriberCount)
	done := make(chan struct{})
	for i := range subs {
		i := i
		go func() {
			results[i], errs[i] = drain(t, subs[i])
			if i == subscriberCount-1 {
				close(done)
			}
		}()
	}

	total, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), total)

	<-done
	for i := range subs {
		require.NoError(t, errs[i])
		require.Equal(t, data, results[i])
	}
}

type erroringReader struct {
	n int
}

func (e *erroringReader) Read(p []byte) (int, error) {
	if e.n > 0 {
		n := e.n
		if n > len(p) {
			n = len(p)
		}
		e.n -= n
		for i := 0; i < n; i++ {
			p[i] = 'x'
		}
		return n, nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestReaderPropagatesSourceError(t *testing.T) {
	r := reader.New(&erroringReader{n: 10}, 4, 1)
	ch, err := r.Subscribe()
	require.NoError(t, err)

	var gotErr error
	done := make(chan struct{})
	go func() {
		_, gotErr = drain(t, ch)
		close(done)
	}()

	_, runErr := r.Run(context.Background())
	require.Error(t, runErr)

	<-done
	require.Error(t, gotErr)
}

func TestReaderRejectsLateSubscription(t *testing.T) {
	r := reader.New(bytes.NewReader(nil), 1024, 1)
	_, err := r.Subscribe()
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	_, err = r.Subscribe()
	require.Error(t, err)
}
