package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacheproxy/internal/logging"
	"github.com/any-hub/cacheproxy/internal/relay"
)

// ConnHandler 负责处理单个客户端连接，并保证返回前关闭连接。
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn) relay.Outcome
}

// ConnHandlerFunc adapts a function to the ConnHandler interface.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn) relay.Outcome

// Serve makes ConnHandlerFunc satisfy ConnHandler.
func (f ConnHandlerFunc) Serve(ctx context.Context, conn net.Conn) relay.Outcome {
	return f(ctx, conn)
}

// DispatcherOptions 描述调度器依赖。
type DispatcherOptions struct {
	Logger  *logrus.Logger
	Handler ConnHandler
	// DrainTimeout 限制关闭时等待在途连接的时长，0 表示一直等待。
	DrainTimeout time.Duration
}

// Dispatcher 循环 accept，并为每个连接启动一个独立 goroutine。
type Dispatcher struct {
	logger       *logrus.Logger
	handler      ConnHandler
	drainTimeout time.Duration
	workers      sync.WaitGroup
}

// ErrDrainTimeout 表示关闭时仍有连接未处理完。
var ErrDrainTimeout = errors.New("timed out waiting for connections to finish")

// NewDispatcher 校验依赖并返回调度器。
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("connection handler is required")
	}
	return &Dispatcher{
		logger:       opts.Logger,
		handler:      opts.Handler,
		drainTimeout: opts.DrainTimeout,
	}, nil
}

// Listen 在所有地址上监听 TCP 端口。
func Listen(port int) (net.Listener, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return ln, nil
}

// Serve 持续接受连接直到 ctx 结束；结束时关闭监听器并等待在途连接。
// 单个连接的失败只记录日志，不会中断 accept 循环。
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				// 监听器被外部关闭，同样要等在途连接结束。
				if derr := d.drain(); derr != nil {
					return derr
				}
				return err
			}
			d.logger.WithError(err).WithField("action", "accept").Warn("accept failed")
			// 避免资源耗尽（如 EMFILE）时空转。
			time.Sleep(10 * time.Millisecond)
			continue
		}

		d.workers.Add(1)
		go d.serveConn(ctx, conn)
	}

	return d.drain()
}

func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	defer d.workers.Done()

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			_ = conn.Close()
			d.logger.WithFields(logging.ConnFields(connID, remote)).
				WithField("panic", rec).
				Error("connection worker panic")
		}
	}()

	outcome := d.handler.Serve(ctx, conn)

	fields := logging.ConnFields(connID, remote)
	fields["action"] = "relay"
	fields["method"] = outcome.Method
	fields["key"] = outcome.Key
	fields["cache_hit"] = outcome.Hit
	fields["cached"] = outcome.Cached
	fields["bytes"] = outcome.Bytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	entry := d.logger.WithFields(fields)
	switch {
	case outcome.Err == nil:
		entry.Info("request completed")
	case relay.IsClientError(outcome.Err):
		entry.WithError(outcome.Err).Debug("request ignored")
	default:
		entry.WithError(outcome.Err).Warn("request aborted")
	}
}

func (d *Dispatcher) drain() error {
	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	if d.drainTimeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(d.drainTimeout):
		return ErrDrainTimeout
	}
}
