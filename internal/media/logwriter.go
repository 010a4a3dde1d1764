package media

import (
	"bytes"
	"log/slog"
)

// processLogWriter forwards encoder stderr to the structured logger one line
// at a time so process output stays greppable without leaking into status
// responses.
type processLogWriter struct {
	logger *slog.Logger
	jobID  string
	stream string
}

func newProcessLogWriter(logger *slog.Logger, jobID, stream string) *processLogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &processLogWriter{logger: logger, jobID: jobID, stream: stream}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("encoder output", "job_id", w.jobID, "stream", w.stream, "line", string(line))
	}
	return total, nil
}
