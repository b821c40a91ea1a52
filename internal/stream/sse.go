package stream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event block. Comment-only blocks (":ping")
// are reported with Comment set and no Data so callers can observe
// liveness without treating them as payload.
type Event struct {
	Type    string
	ID      string
	Data    string
	Comment string
}

// IsComment reports whether the block carried no data.
func (e Event) IsComment() bool {
	return e.Data == "" && e.Comment != ""
}

// Scanner reads server-sent events from an io.Reader. Events are
// delimited by blank lines; multiple data lines are joined with "\n".
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner creates a scanner over reader.
func NewScanner(reader io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(reader, 64*1024)}
}

// Next advances to the next event. It returns false at EOF or on error;
// Err distinguishes the two.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = Event{}

	var dataLines []string
	var comments []string
	var eventType, eventID string
	hasData := false

	emit := func() bool {
		if !hasData && len(comments) == 0 {
			return false
		}
		s.current = Event{
			Type:    eventType,
			ID:      eventID,
			Data:    strings.Join(dataLines, "\n"),
			Comment: strings.Join(comments, "\n"),
		}
		return true
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				s.err = io.EOF
				return emit()
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if emit() {
				return true
			}
			eventType = ""
			eventID = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			comments = append(comments, strings.TrimSpace(strings.TrimPrefix(line, ":")))
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			eventID = value
		}
	}
}

// Event returns the most recently parsed event.
func (s *Scanner) Event() Event {
	return s.current
}

// Err returns the first non-EOF error.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
