package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

const (
	// How long Poll waits for bytes to arrive.
	pollTimeout = time.Millisecond
	// Applied when ReadTimeout or WriteTimeout are zero.
	defaultTimeout = 5 * time.Second
)

// ErrClosed is recorded as the error of a Client that was closed locally.
var ErrClosed = errors.New("connection closed")

// ErrStalled is recorded when part of a packet arrives and the rest does not
// follow within ReadTimeout.
var ErrStalled = errors.New("incomplete packet timed out")

// Client wraps a TCP connection to a player or map server. It is not safe for
// concurrent use apart from Err, SetError and Close; each Client is only ever
// serviced by the loop owning the collection it belongs to.
type Client struct {
	connection net.Conn
	reader     *bufio.Reader
	ipAddr     string
	port       string

	// Bounded waits for the remainder of a packet and for writes to drain.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// When set, every packet sent or received is dumped at debug level.
	Debug  bool
	Logger logrus.FieldLogger

	// Bytes read by Poll that do not yet make up a whole packet, and when the
	// oldest of them arrived.
	pending      []byte
	partialSince time.Time

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func NewClient(connection net.Conn) *Client {
	c := &Client{
		connection: connection,
		reader:     bufio.NewReader(connection),
	}
	c.ipAddr, c.port, _ = net.SplitHostPort(connection.RemoteAddr().String())
	return c
}

func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Err returns the error that put the connection in its failed state, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) HasError() bool { return c.Err() != nil }

// SetError marks the connection as failed. Only the first error is kept.
func (c *Client) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Poll returns the next packet if it has arrived in full, waiting no longer than
// pollTimeout for more bytes. Partial packets are kept until the rest arrives;
// one that stays incomplete for longer than ReadTimeout fails the connection.
// A nil packet with a nil error means there is nothing to read yet.
func (c *Client) Poll() (packets.Packet, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	if pkt, err := c.splitPending(); pkt != nil || err != nil {
		return pkt, err
	}

	readErr := c.fill()
	if pkt, err := c.splitPending(); pkt != nil || err != nil {
		return pkt, err
	}
	if readErr != nil {
		return nil, readErr
	}

	if len(c.pending) > 0 && time.Since(c.partialSince) > c.timeout(c.ReadTimeout) {
		err := fmt.Errorf("reading from %s: %w after %d bytes", c.ipAddr, ErrStalled, len(c.pending))
		c.SetError(err)
		return nil, err
	}
	return nil, nil
}

// fill appends whatever can be read within pollTimeout to the pending bytes.
func (c *Client) fill() error {
	_ = c.connection.SetReadDeadline(time.Now().Add(pollTimeout))
	defer c.connection.SetReadDeadline(time.Time{})

	var chunk [4096]byte
	for {
		n, err := c.reader.Read(chunk[:])
		if n > 0 {
			if len(c.pending) == 0 {
				c.partialSince = time.Now()
			}
			c.pending = append(c.pending, chunk[:n]...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			err = fmt.Errorf("reading from %s: %w", c.ipAddr, err)
			c.SetError(err)
			return err
		}
		if c.reader.Buffered() == 0 {
			return nil
		}
	}
}

func (c *Client) splitPending() (packets.Packet, error) {
	if len(c.pending) == 0 {
		return nil, nil
	}

	pkt, n, err := packets.Split(c.pending)
	if err != nil {
		c.pending = c.pending[:0]
		_, _ = c.reader.Discard(c.reader.Buffered())
		return nil, err
	}
	if pkt == nil {
		return nil, nil
	}

	c.pending = append(c.pending[:0], c.pending[n:]...)
	c.partialSince = time.Now()
	c.logReceived(pkt)
	return pkt, nil
}

// Recv reads one packet, allowing ReadTimeout for it to arrive in full.
func (c *Client) Recv() (packets.Packet, error) {
	return c.RecvTimeout(c.timeout(c.ReadTimeout))
}

// RecvTimeout reads one packet, waiting at most d for it. A malformed packet
// leaves the connection usable but drops whatever else was buffered; any other
// error fails the connection.
func (c *Client) RecvTimeout(d time.Duration) (packets.Packet, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	_ = c.connection.SetReadDeadline(time.Now().Add(d))
	defer c.connection.SetReadDeadline(time.Time{})

	// Bytes already buffered by Poll come first.
	var r io.Reader = c.reader
	var held *bytes.Reader
	if len(c.pending) > 0 {
		held = bytes.NewReader(c.pending)
		r = io.MultiReader(held, c.reader)
	}

	pkt, err := packets.Read(r)
	if held != nil {
		c.pending = append(c.pending[:0], c.pending[len(c.pending)-held.Len():]...)
	}
	if err != nil {
		if errors.Is(err, packets.ErrMalformed) {
			c.pending = c.pending[:0]
			_, _ = c.reader.Discard(c.reader.Buffered())
			return nil, err
		}
		err = fmt.Errorf("reading from %s: %w", c.ipAddr, err)
		c.SetError(err)
		return nil, err
	}

	c.logReceived(pkt)
	return pkt, nil
}

func (c *Client) logReceived(pkt packets.Packet) {
	if c.Debug && c.Logger != nil {
		c.Logger.Debugf("received %v from %s:\n%s", pkt.Opcode(), c.ipAddr, spew.Sdump(pkt))
	}
}

// Send serializes the packet and writes it to the connection. A write failure
// fails the connection.
func (c *Client) Send(pkt packets.Packet) error {
	if err := c.Err(); err != nil {
		return err
	}

	data, err := packets.Marshal(pkt)
	if err != nil {
		return err
	}
	if c.Debug && c.Logger != nil {
		c.Logger.Debugf("sending %v to %s:\n%s", pkt.Opcode(), c.ipAddr, spew.Sdump(pkt))
	}

	_ = c.connection.SetWriteDeadline(time.Now().Add(c.timeout(c.WriteTimeout)))
	if err := c.transmit(data); err != nil {
		c.SetError(err)
		return err
	}
	return nil
}

// transmit writes the contents of data to the TCP connection until every byte
// has been written.
func (c *Client) transmit(data []byte) error {
	bytesSent := 0

	for bytesSent < len(data) {
		b, err := c.connection.Write(data[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.IPAddr(), err)
		}
		bytesSent += b
	}

	return nil
}

// Close the TCP connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.SetError(ErrClosed)
		err = c.connection.Close()
	})
	return err
}

func (c *Client) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
