package core

// listener.go – the binary-protocol TCP accept loop: one fiber per
// connection, each reading a request header, decoding its body, running
// it through Dispatch, and writing back a reply header plus body, per
// spec.md §4.3/§9. The scheduler itself is driven by a single goroutine
// (Scheduler.Run) started alongside the listener, matching the
// single-threaded-executor model every other fiber primitive in this
// package assumes.

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// ListenAndServe accepts connections on ln until ctx is cancelled or ln is
// closed, spawning one fiber per connection to run the request loop. It
// blocks until the listener stops accepting.
func ListenAndServe(ctx context.Context, srv *Server, ln net.Listener) error {
	go srv.Scheduler().Run(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		spawnConnFiber(ctx, srv, conn)
	}
}

func spawnConnFiber(ctx context.Context, srv *Server, conn net.Conn) {
	fiber := srv.Scheduler().Create(ctx, "conn:"+conn.RemoteAddr().String(), func(f *Fiber) (interface{}, error) {
		serveConn(f, srv, conn)
		return nil, nil
	})
	fiber.Wake()
}

// serveConn runs the request/reply loop for one connection, yielding the
// fiber for every blocking read or write via FiberConn.
func serveConn(f *Fiber, srv *Server, conn net.Conn) {
	defer conn.Close()
	fc := NewFiberConn(f, conn)

	for {
		var hdr [reqHeaderSize]byte
		if _, err := fc.Bread(hdr[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithError(err).Debug("core: connection read failed")
			}
			return
		}
		reqHdr, err := DecodeRequestHeader(hdr[:])
		if err != nil {
			return
		}

		body := make([]byte, reqHdr.BodyLen)
		if reqHdr.BodyLen > 0 {
			if _, err := fc.Bread(body); err != nil {
				return
			}
		}

		replyBody, herr := Dispatch(f.Context(), srv, reqHdr.Op, body)
		reply := ReplyHeader{
			Op:        reqHdr.Op,
			BodyLen:   uint32(len(replyBody)),
			RequestID: reqHdr.RequestID,
			RetCode:   RetCode(herr),
		}
		if herr != nil {
			replyBody = []byte(herr.Error())
			reply.BodyLen = uint32(len(replyBody))
		}

		var replyHdr [replyHeaderSize]byte
		reply.Encode(replyHdr[:])
		if _, err := fc.Sendv([][]byte{replyHdr[:], replyBody}); err != nil {
			return
		}
	}
}
