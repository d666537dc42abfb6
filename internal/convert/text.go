package convert

import (
	"context"
	"io"
	"strings"
)

// TextConverter handles plain text files that already carry section
// numbers at line starts.
type TextConverter struct{}

func (c *TextConverter) Convert(_ context.Context, r io.Reader, _ string) (string, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(Headingize(string(src))), nil
}
