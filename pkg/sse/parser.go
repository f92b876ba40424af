package sse

import "strings"

const (
	fieldID    = "id:"
	fieldEvent = "event:"
	fieldData  = "data:"
)

// Parse consumes buffer and returns every record that is closed by a blank
// line, plus the unconsumed remainder.
//
// Lines may be terminated by "\r\n", "\r" or "\n". The remainder is the raw,
// unmodified text starting at the first line of the record that is still open,
// or at the trailing line that has not seen its terminator yet. Callers carry it
// forward and call Parse(remainder + next) when more text arrives; for any
// chunking of a stream this yields the same records as parsing the whole stream
// at once.
//
// A trailing lone "\r" is treated as incomplete because it may be the first half
// of a "\r\n" pair split across chunks.
//
// Parse holds no state between calls.
func Parse(buffer string) ([]Event, string) {
	var (
		events      []Event
		current     Event
		inRecord    bool
		recordStart int
		pos         int
	)

	for pos < len(buffer) {
		end, next, ok := nextLine(buffer, pos)
		if !ok {
			break
		}

		line := buffer[pos:end]
		lineStart := pos
		pos = next

		if line == "" {
			if inRecord {
				events = append(events, current)
				current = Event{}
				inRecord = false
			}
			continue
		}

		if applyField(&current, line) && !inRecord {
			inRecord = true
			recordStart = lineStart
		}
	}

	if inRecord {
		return events, buffer[recordStart:]
	}
	return events, buffer[pos:]
}

// Terminate force-closes whatever record remains in a remainder returned by
// Parse. It is used once the underlying stream has ended and no further text
// can arrive.
func Terminate(remainder string) []Event {
	if remainder == "" {
		return nil
	}
	events, _ := Parse(remainder + "\n\n")
	return events
}

// nextLine locates the terminator of the line starting at pos. It returns the
// end of the line content, the start of the following line, and false when the
// line is not yet known to be complete.
func nextLine(buffer string, pos int) (int, int, bool) {
	idx := strings.IndexAny(buffer[pos:], "\r\n")
	if idx < 0 {
		return 0, 0, false
	}

	end := pos + idx
	if buffer[end] == '\n' {
		return end, end + 1, true
	}

	switch {
	case end+1 == len(buffer):
		return 0, 0, false
	case buffer[end+1] == '\n':
		return end, end + 2, true
	default:
		return end, end + 1, true
	}
}

// applyField folds one non-blank line into ev. It reports whether the line was
// one of the recognized fields.
func applyField(ev *Event, line string) bool {
	switch {
	case strings.HasPrefix(line, fieldID):
		ev.ID = fieldValue(line, fieldID)
	case strings.HasPrefix(line, fieldEvent):
		ev.Type = fieldValue(line, fieldEvent)
	case strings.HasPrefix(line, fieldData):
		if ev.Data != "" {
			ev.Data += "\n"
		}
		ev.Data += fieldValue(line, fieldData)
	default:
		// Comments (":" prefix), "retry" and unknown fields are not interpreted.
		return false
	}
	return true
}

func fieldValue(line, prefix string) string {
	return strings.TrimLeft(line[len(prefix):], " \t")
}
