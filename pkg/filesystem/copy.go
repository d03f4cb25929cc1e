package filesystem

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/fspath"
)

// copyCallback is the shared progress/cancellation state of one copy. The
// streaming phase reports byte counts through it and polls the cancel flag
// between buffer transfers.
type copyCallback struct {
	mu          sync.Mutex
	bytesToCopy int64
	bytesCopied int64
	started     bool
	cancelled   bool
}

// start captures the planning total once. Later calls are ignored.
func (c *copyCallback) start(bytesToCopy int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.started = true
		c.bytesToCopy = bytesToCopy
	}
}

func (c *copyCallback) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *copyCallback) addBytesCopied(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesCopied += n
}

func (c *copyCallback) progress() (toCopy, copied int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesToCopy, c.bytesCopied
}

func (c *copyCallback) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *copyCallback) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// copyTask is one queued copy operation.
type copyTask struct {
	id        string
	source    fspath.Path
	destFS    *FileSystem
	dest      fspath.Path
	mode      CopyMode
	recursive bool

	callback *copyCallback

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
	err  error // set before done is closed
}

func (t *copyTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// pendingCopy pairs an in-flight task with its shared callback.
type pendingCopy struct {
	task     *copyTask
	callback *copyCallback
}

// Copy starts an asynchronous (possibly recursive) copy of source on this
// filesystem to dest on destFS, and returns its copy identifier immediately.
// Progress is observed via GetCopyStatus and WaitUntilCopyDone.
func (fs *FileSystem) Copy(source fspath.Path, destFS *FileSystem, dest fspath.Path, mode CopyMode, recursive bool) (string, error) {
	if destFS == nil {
		return "", fmt.Errorf("destination filesystem is required")
	}
	if err := fs.assertIsOpen(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())

	task := &copyTask{
		source:    fs.ToAbsolutePath(source),
		destFS:    destFS,
		dest:      destFS.ToAbsolutePath(dest),
		mode:      mode,
		recursive: recursive,
		callback:  &copyCallback{},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	fs.mu.Lock()
	task.id = fmt.Sprintf("COPY-%s-%d", fs.AdaptorName(), fs.nextCopyID)
	fs.nextCopyID++
	fs.pending[task.id] = &pendingCopy{task: task, callback: task.callback}
	fs.queue = append(fs.queue, task)
	fs.more.Signal()
	fs.mu.Unlock()

	fs.log.Debug("copy submitted",
		zap.String("copy_id", task.id),
		zap.Stringer("source", task.source),
		zap.Stringer("dest", task.dest),
		zap.Stringer("mode", mode),
		zap.Bool("recursive", recursive))

	return task.id, nil
}

// copyWorker drains the task queue one copy at a time, so operations against
// this source back-end are serialized.
func (fs *FileSystem) copyWorker() {
	defer fs.worker.Done()

	for {
		fs.mu.Lock()
		for len(fs.queue) == 0 && !fs.closed {
			fs.more.Wait()
		}
		if fs.closed && len(fs.queue) == 0 {
			fs.mu.Unlock()
			return
		}
		task := fs.queue[0]
		fs.queue = fs.queue[1:]
		fs.mu.Unlock()

		var err error
		if task.callback.isCancelled() {
			err = fs.newPathError("Copy", task.source, ErrCopyCancelled)
		} else {
			err = fs.performCopy(task.ctx, task.source, task.destFS, task.dest, task.mode, task.recursive, task.callback)
		}
		task.cancel()
		task.err = err
		close(task.done)

		if err != nil {
			fs.log.Debug("copy failed", zap.String("copy_id", task.id), zap.Error(err))
		} else {
			fs.log.Debug("copy finished", zap.String("copy_id", task.id))
		}
	}
}

// GetCopyStatus reports the current state of a copy. Observing a terminal
// state removes the entry; subsequent calls with the same id fail with
// ErrNoSuchCopy.
func (fs *FileSystem) GetCopyStatus(copyID string) (CopyStatus, error) {
	fs.mu.Lock()
	pc, ok := fs.pending[copyID]
	if ok && pc.task.finished() {
		delete(fs.pending, copyID)
	}
	fs.mu.Unlock()

	if !ok {
		return CopyStatus{}, &Error{Op: "GetCopyStatus", Adaptor: fs.AdaptorName(), Err: fmt.Errorf("%w: %s", ErrNoSuchCopy, copyID)}
	}
	return fs.statusOf(copyID, pc), nil
}

// CancelCopy aborts a copy, waits for it to wind down, and returns the final
// status. The entry is removed; subsequent queries fail with ErrNoSuchCopy.
func (fs *FileSystem) CancelCopy(copyID string) (CopyStatus, error) {
	fs.mu.Lock()
	pc, ok := fs.pending[copyID]
	delete(fs.pending, copyID)
	fs.mu.Unlock()

	if !ok {
		return CopyStatus{}, &Error{Op: "CancelCopy", Adaptor: fs.AdaptorName(), Err: fmt.Errorf("%w: %s", ErrNoSuchCopy, copyID)}
	}

	pc.callback.cancel()
	pc.task.cancel()
	<-pc.task.done

	return fs.statusOf(copyID, pc), nil
}

// WaitUntilCopyDone blocks until the copy reaches a terminal state or the
// timeout expires. A zero timeout waits indefinitely; negative is invalid.
// When the returned status is terminal the entry is removed.
func (fs *FileSystem) WaitUntilCopyDone(copyID string, timeout time.Duration) (CopyStatus, error) {
	if timeout < 0 {
		return CopyStatus{}, fmt.Errorf("timeout must not be negative")
	}

	fs.mu.Lock()
	pc, ok := fs.pending[copyID]
	fs.mu.Unlock()

	if !ok {
		return CopyStatus{}, &Error{Op: "WaitUntilCopyDone", Adaptor: fs.AdaptorName(), Err: fmt.Errorf("%w: %s", ErrNoSuchCopy, copyID)}
	}

	if timeout == 0 {
		<-pc.task.done
	} else {
		timer := time.NewTimer(timeout)
		select {
		case <-pc.task.done:
			timer.Stop()
		case <-timer.C:
		}
	}

	if pc.task.finished() {
		fs.mu.Lock()
		delete(fs.pending, copyID)
		fs.mu.Unlock()
	}

	return fs.statusOf(copyID, pc), nil
}

func (fs *FileSystem) statusOf(copyID string, pc *pendingCopy) CopyStatus {
	toCopy, copied := pc.callback.progress()

	state := CopyStatePending
	var err error

	if pc.task.finished() {
		if pc.task.err != nil {
			state = CopyStateFailed
			err = pc.task.err
		} else {
			state = CopyStateDone
		}
	} else if pc.callback.isStarted() {
		state = CopyStateRunning
	}

	return CopyStatus{copyID: copyID, state: state, bytesToCopy: toCopy, bytesCopied: copied, err: err}
}

// performCopy routes one copy request by source kind: file, link or
// directory tree.
func (fs *FileSystem) performCopy(ctx context.Context, source fspath.Path, destFS *FileSystem, dest fspath.Path, mode CopyMode, recursive bool, callback *copyCallback) error {
	exists, err := fs.backend.Exists(ctx, source)
	if err != nil {
		return err
	}
	if !exists {
		return fs.newPathError("Copy", source, ErrNoSuchPath)
	}

	attr, err := fs.backend.GetAttributes(ctx, source)
	if err != nil {
		return err
	}

	if attr.Regular {
		callback.start(attr.Size)
		return fs.copyFile(ctx, source, destFS, dest, mode, callback)
	}

	if attr.SymbolicLink {
		return fs.copyLink(ctx, source, destFS, dest, mode)
	}

	if !attr.Directory {
		return fs.newPathError("Copy", source, ErrInvalidPath)
	}

	if !recursive {
		return fs.newPathError("Copy", source, ErrInvalidPath)
	}

	// The source is a directory; settle the destination before walking.
	exists, err = destFS.backend.Exists(ctx, dest)
	if err != nil {
		return err
	}

	if exists {
		switch mode {
		case CopyCreate:
			return destFS.newPathError("Copy", dest, ErrPathAlreadyExists)
		case CopyIgnore:
			return nil
		case CopyReplace:
			// fall through
		}

		dattr, err := destFS.backend.GetAttributes(ctx, dest)
		if err != nil {
			return err
		}
		if dattr.Regular || dattr.SymbolicLink {
			if err := destFS.delete(ctx, dest, false); err != nil {
				return err
			}
			if err := destFS.backend.CreateDirectory(ctx, dest); err != nil {
				return err
			}
		} else if !dattr.Directory {
			return destFS.newPathError("Copy", dest, ErrInvalidPath)
		}
	} else {
		if err := destFS.backend.CreateDirectory(ctx, dest); err != nil {
			return err
		}
	}

	return fs.copyRecursive(ctx, source, destFS, dest, mode, callback)
}

// copyRecursive walks the source tree twice: first creating the directory
// skeleton and totalling the byte count, then streaming the regular files.
func (fs *FileSystem) copyRecursive(ctx context.Context, source fspath.Path, destFS *FileSystem, dest fspath.Path, mode CopyMode, callback *copyCallback) error {
	var listing []PathAttributes
	if err := fs.list(ctx, source, true, &listing); err != nil {
		return err
	}

	var bytesToCopy int64

	for _, p := range listing {
		if callback.isCancelled() {
			return fs.newPathError("Copy", source, ErrCopyCancelled)
		}

		if p.Directory {
			rel, ok := source.Relativize(p.Path)
			if !ok {
				return fs.newPathError("Copy", p.Path, ErrInvalidPath)
			}
			dst := dest.Resolve(rel)

			exists, err := destFS.backend.Exists(ctx, dst)
			if err != nil {
				return err
			}
			if exists {
				dattr, err := destFS.backend.GetAttributes(ctx, dst)
				if err != nil {
					return err
				}
				if dattr.Directory {
					switch mode {
					case CopyCreate:
						return destFS.newPathError("Copy", dst, ErrPathAlreadyExists)
					case CopyReplace:
						// merge into the existing directory
					case CopyIgnore:
						return nil
					}
				} else {
					if err := destFS.delete(ctx, dst, true); err != nil {
						return err
					}
					if err := destFS.CreateDirectories(ctx, dst); err != nil {
						return err
					}
				}
			} else {
				if err := destFS.CreateDirectories(ctx, dst); err != nil {
					return err
				}
			}
		} else if p.Regular {
			bytesToCopy += p.Size
		}
	}

	callback.start(bytesToCopy)

	for _, p := range listing {
		if callback.isCancelled() {
			return fs.newPathError("Copy", source, ErrCopyCancelled)
		}

		if p.Regular {
			rel, ok := source.Relativize(p.Path)
			if !ok {
				return fs.newPathError("Copy", p.Path, ErrInvalidPath)
			}
			if err := fs.copyFile(ctx, p.Path, destFS, dest.Resolve(rel), mode, callback); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyFile copies one regular file. Back-ends that implement FileCopier get
// a chance to short-circuit with a native copy before the stream pipeline
// runs.
func (fs *FileSystem) copyFile(ctx context.Context, source fspath.Path, destFS *FileSystem, dest fspath.Path, mode CopyMode, callback *copyCallback) error {
	attr, err := fs.backend.GetAttributes(ctx, source)
	if err != nil {
		return err
	}
	if !attr.Regular {
		return fs.newPathError("Copy", source, ErrInvalidPath)
	}

	if err := destFS.assertParentDirectoryExists(ctx, dest); err != nil {
		return err
	}

	exists, err := destFS.backend.Exists(ctx, dest)
	if err != nil {
		return err
	}
	if exists {
		switch mode {
		case CopyCreate:
			return destFS.newPathError("Copy", dest, ErrPathAlreadyExists)
		case CopyIgnore:
			return nil
		case CopyReplace:
			if err := destFS.delete(ctx, dest, true); err != nil {
				return err
			}
		}
	}

	if callback.isCancelled() {
		return fs.newPathError("Copy", source, ErrCopyCancelled)
	}

	if copier, ok := fs.backend.(FileCopier); ok {
		handled, err := copier.CopyFile(ctx, source, destFS, dest)
		if err != nil {
			return err
		}
		if handled {
			callback.addBytesCopied(attr.Size)
			return nil
		}
	}

	in, err := fs.backend.ReadFromFile(ctx, source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := destFS.backend.WriteToFile(ctx, dest, attr.Size)
	if err != nil {
		return err
	}

	if err := fs.streamCopy(in, out, callback); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyLink copies a symbolic link itself, without dereferencing it.
func (fs *FileSystem) copyLink(ctx context.Context, source fspath.Path, destFS *FileSystem, dest fspath.Path, mode CopyMode) error {
	attr, err := fs.backend.GetAttributes(ctx, source)
	if err != nil {
		return err
	}
	if !attr.SymbolicLink {
		return fs.newPathError("Copy", source, ErrInvalidPath)
	}

	if err := destFS.assertParentDirectoryExists(ctx, dest); err != nil {
		return err
	}

	exists, err := destFS.backend.Exists(ctx, dest)
	if err != nil {
		return err
	}
	if exists {
		switch mode {
		case CopyCreate:
			return destFS.newPathError("Copy", dest, ErrPathAlreadyExists)
		case CopyIgnore:
			return nil
		case CopyReplace:
			if err := destFS.delete(ctx, dest, true); err != nil {
				return err
			}
		}
	}

	if copier, ok := fs.backend.(SymlinkCopier); ok {
		handled, err := copier.CopyLink(ctx, source, destFS, dest)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	target, err := fs.backend.ReadSymbolicLink(ctx, source)
	if err != nil {
		return err
	}
	return destFS.backend.CreateSymbolicLink(ctx, dest, target)
}

// streamCopy moves bytes through a fixed-size buffer, reporting progress
// after every block and honoring cancellation between blocks.
func (fs *FileSystem) streamCopy(in io.Reader, out io.Writer, callback *copyCallback) error {
	buffer := make([]byte, fs.bufferSize)

	for {
		n, rerr := in.Read(buffer)
		if n > 0 {
			if _, werr := out.Write(buffer[:n]); werr != nil {
				return fs.newError("Copy", werr)
			}

			callback.addBytesCopied(int64(n))

			if callback.isCancelled() {
				return &Error{Op: "Copy", Adaptor: fs.AdaptorName(), Err: ErrCopyCancelled}
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fs.newError("Copy", rerr)
		}
	}
}

func (fs *FileSystem) newError(op string, err error) error {
	return &Error{Op: op, Adaptor: fs.AdaptorName(), Err: err}
}
