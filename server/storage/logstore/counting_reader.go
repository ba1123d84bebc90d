package logstore

import (
	"bufio"
	"io"
)

// countingReader is a buffered byte reader that tracks how far into the
// file it has read.
type countingReader struct {
	r     *bufio.Reader
	count uint64
}

func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.count++
	}
	return b, err
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += uint64(n)
	return n, err
}

// ReadFull reads exactly len(p) bytes.
func (c *countingReader) ReadFull(p []byte) (int, error) {
	n, err := io.ReadFull(c.r, p)
	c.count += uint64(n)
	return n, err
}

func (c *countingReader) Count() uint64 {
	return c.count
}
