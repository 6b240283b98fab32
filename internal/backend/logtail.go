package backend

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

const (
	tailInitialWindow = 64 * 1024
	batchMaxLines     = 50
	batchInterval     = 250 * time.Millisecond
)

// ReadLogTail returns up to limit complete lines from the end of the
// engine log. The read window starts at 64KB and doubles until it covers
// enough lines, so huge logs are never read in full.
func (b *Backend) ReadLogTail(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(b.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errf(CodeLogError, "%v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errf(CodeLogError, "%v", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	window := int64(tailInitialWindow)
	for {
		offset := size - window
		if offset < 0 {
			offset = 0
		}
		buf := make([]byte, size-offset)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, errf(CodeLogError, "%v", err)
		}

		text := string(buf)
		if offset > 0 {
			// Drop the partial first line cut by the window boundary.
			if nl := strings.IndexByte(text, '\n'); nl >= 0 {
				text = text[nl+1:]
			} else {
				text = ""
			}
		}
		lines := splitLines(text)
		if len(lines) >= limit || offset == 0 {
			if len(lines) > limit {
				lines = lines[len(lines)-limit:]
			}
			return lines, nil
		}
		window *= 2
	}
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// startLogPump drains the child's output pipes into the rotating log file
// and pushes batched line events. The token ties the pump to one child
// generation so a restart cannot interleave stale batches.
func (b *Backend) startLogPump(stdout, stderr io.ReadCloser, token uint64) {
	lines := make(chan string, 256)
	var wg sync.WaitGroup

	drain := func(r io.ReadCloser) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines <- line
		}
	}

	wg.Add(2)
	go drain(stdout)
	go drain(stderr)

	go func() {
		wg.Wait()
		close(lines)
	}()

	go b.batchLines(lines, token)
}

// batchLines groups incoming lines into batches of up to batchMaxLines,
// flushing partial batches every 250ms.
func (b *Backend) batchLines(lines <-chan string, token uint64) {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.writeLogLines(batch)
		b.emitLogBatch(batch, token)
		batch = nil
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush()
				return
			}
			batch = append(batch, line)
			if len(batch) >= batchMaxLines {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (b *Backend) writeLogLines(batch []string) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	for _, line := range batch {
		_, _ = b.logWriter.Write([]byte(line + "\n"))
	}
}

func (b *Backend) emitLogBatch(batch []string, token uint64) {
	b.mu.Lock()
	stale := token != b.watchToken
	b.mu.Unlock()
	if stale {
		return
	}
	b.emit(domain.LogBatch{Lines: append([]string(nil), batch...)})
}
