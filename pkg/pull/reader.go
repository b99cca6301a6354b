package pull

import "io"

// countingReader wraps an io.Reader, invoking onRead with the number of
// bytes read after each successful Read, used to drive the caller-supplied
// progress sink (spec §4.G.5).
type countingReader struct {
	r      io.Reader
	onRead func(n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.onRead != nil {
		c.onRead(int64(n))
	}
	return n, err
}
