package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SgtCoDFish/PlayPG/internal/core/client"
)

// frontend implements the client connection logic shared by every server.
//
// Connections are accepted on a dedicated goroutine and handed straight to the
// Backend, which owns them from then on.
type frontend struct {
	Address string
	Backend Backend
	Logger  *logrus.Logger

	socket *net.TCPListener
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// The accept loop and the backend's Run loop are spun off in their own goroutines and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.socket = socket

	wg.Add(2)
	go func() {
		defer wg.Done()
		f.Backend.Run(ctx)
		f.Logger.Infof("[%s] exited", f.Backend.Identifier())
	}()
	go f.startBlockingLoop(ctx, wg)

	return nil
}

// Addr returns the address the frontend is listening on once started.
func (f *frontend) Addr() net.Addr {
	if f.socket == nil {
		return nil
	}
	return f.socket.Addr()
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

// startBlockingLoop accepts connections until ctx is cancelled, which closes
// the socket and unblocks the pending accept.
func (f *frontend) startBlockingLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[%s] waiting for connections on %v", f.Backend.Identifier(), f.socket.Addr())

	go func() {
		<-ctx.Done()
		_ = f.socket.Close()
	}()

	for {
		connection, err := f.socket.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			f.Logger.Warnf("[%s] failed to accept connection: %v", f.Backend.Identifier(), err)
			continue
		}

		c := client.NewClient(connection)
		f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), c.IPAddr())
		f.Backend.Admit(c)
	}

	f.Logger.Infof("[%s] stopped accepting connections", f.Backend.Identifier())
}
