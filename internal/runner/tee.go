package runner

import "io"

// teeWriter duplicates every write to a capture buffer and a pass-through
// stream. A write only succeeds once both destinations took all of p.
type teeWriter struct {
	capture io.Writer
	echo    io.Writer
}

// Tee returns a writer that copies into capture and echo.
func Tee(capture, echo io.Writer) io.Writer {
	return &teeWriter{capture: capture, echo: echo}
}

func (t *teeWriter) Write(p []byte) (int, error) {
	if err := writeFull(t.capture, p); err != nil {
		return 0, err
	}
	if err := writeFull(t.echo, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// writeFull keeps writing until w accepted all of p. Writers that return a
// short count without an error are retried with the remainder.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
