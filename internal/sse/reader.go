package sse

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
)

// DefaultEventName is used for frames without an event field.
const DefaultEventName = "message"

type Event struct {
	ID   string
	Name string
	Data []byte
}

func readEvents(ctx context.Context, reader io.Reader, out chan<- Event, errs chan<- error) {
	defer close(out)

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	id := ""
	name := ""
	hasData := false
	var data bytes.Buffer
	emit := func() bool {
		if !hasData {
			name = ""
			return true
		}
		event := Event{ID: id, Name: name, Data: append([]byte{}, data.Bytes()...)}
		if event.Name == "" {
			event.Name = DefaultEventName
		}
		name = ""
		hasData = false
		data.Reset()
		select {
		case out <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if !emit() {
				errs <- ctx.Err()
				return
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = strings.TrimSpace(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				id = value
			}
		}
	}

	// A frame cut off without its blank line is discarded.
	if scanErr := scanner.Err(); scanErr != nil {
		errs <- scanErr
		return
	}
	errs <- io.EOF
}
