package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractWithCat handles OpenDocument text and RTF. cat detects the format from
// the content itself.
func extractWithCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}
