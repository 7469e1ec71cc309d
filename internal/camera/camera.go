// Package camera wraps an OpenCV video device as a frame source for match
// sessions.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/irisballot/backend/internal/matcher"
)

var _ matcher.Camera = (*Device)(nil)

var (
	ErrClosed     = errors.New("camera closed")
	ErrEmptyFrame = errors.New("empty frame")
)

// Frame owns one captured matrix. Callers must Close it.
type Frame struct {
	mat gocv.Mat
}

func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

// Device is a single opened capture device. Release happens exactly once
// whichever path calls Close first.
type Device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	closed  bool
	once    sync.Once
	err     error
}

// Open acquires the device. id is a device index ("0") or a stream URL.
func Open(id string) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", id, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open camera %s: device not available", id)
	}
	return &Device{capture: capture}, nil
}

// Read grabs the next frame. It returns as soon as ctx is done; a grab
// already handed to the driver keeps the device busy until it completes,
// and its frame is discarded.
func (d *Device) Read(ctx context.Context) (matcher.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}

	grabbed := make(chan *Frame, 1)
	go func() {
		defer d.mu.Unlock()
		mat := gocv.NewMat()
		if ok := d.capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			grabbed <- nil
			return
		}
		grabbed <- &Frame{mat: mat}
	}()

	select {
	case f := <-grabbed:
		if f == nil {
			return nil, ErrEmptyFrame
		}
		return f, nil
	case <-ctx.Done():
		go func() {
			if f := <-grabbed; f != nil {
				f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close waits for an in-flight grab, then releases the device.
func (d *Device) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = true
		d.err = d.capture.Close()
	})
	return d.err
}
