package core

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// ControlReader reads Debian control paragraphs one at a time so large
// Packages files are never held in memory whole.
type ControlReader struct {
	reader *bufio.Reader
	line   int
}

// NewControlReader wraps r.
func NewControlReader(r io.Reader) *ControlReader {
	return &ControlReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next paragraph or io.EOF.
func (c *ControlReader) Next() (types.Stanza, error) {
	var stanza types.Stanza
	for {
		raw, err := c.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to read control data").
				WithCause(err)
		}
		if raw == "" && errors.Is(err, io.EOF) {
			if len(stanza) == 0 {
				return nil, io.EOF
			}
			return stanza, nil
		}
		c.line++
		line := strings.TrimRight(raw, "\r\n")
		switch {
		case strings.TrimSpace(line) == "":
			if len(stanza) > 0 {
				return stanza, nil
			}
		case strings.HasPrefix(line, "#"):
		case line[0] == ' ' || line[0] == '\t':
			if len(stanza) == 0 {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("continuation line without field at line " + strconv.Itoa(c.line))
			}
			last := &stanza[len(stanza)-1]
			last.Value += "\n" + line
		default:
			idx := strings.Index(line, ":")
			if idx <= 0 {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("malformed control line " + strconv.Itoa(c.line) + ": " + line)
			}
			stanza = append(stanza, types.Field{
				Name:  line[:idx],
				Value: strings.TrimSpace(line[idx+1:]),
			})
		}
		if errors.Is(err, io.EOF) {
			if len(stanza) == 0 {
				return nil, io.EOF
			}
			return stanza, nil
		}
	}
}

// ParseControl reads every paragraph of r.
func ParseControl(r io.Reader) ([]types.Stanza, error) {
	reader := NewControlReader(r)
	var out []types.Stanza
	for {
		stanza, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, stanza)
	}
}

// FormatStanza renders a paragraph without the trailing blank line.
func FormatStanza(stanza types.Stanza) string {
	var b strings.Builder
	for _, field := range stanza {
		b.WriteString(field.Name)
		b.WriteString(":")
		if field.Value != "" && !strings.HasPrefix(field.Value, "\n") {
			b.WriteString(" ")
		}
		b.WriteString(field.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// WriteStanza writes a paragraph followed by the separating blank line.
func WriteStanza(w io.Writer, stanza types.Stanza) error {
	if _, err := io.WriteString(w, FormatStanza(stanza)+"\n"); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write control data").
			WithCause(err)
	}
	return nil
}

// multilineValues splits a multi-line field into its non-empty lines.
func multilineValues(value string) []string {
	var out []string
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
