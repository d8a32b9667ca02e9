package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/parley/internal/chat"
)

// loadAttachments reads image files into attachments, deriving the MIME type
// from the extension with a content sniff fallback.
func loadAttachments(paths []string) ([]chat.Attachment, error) {
	attachments := make([]chat.Attachment, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", path, err)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}

		attachments = append(attachments, chat.Attachment{MIME: mimeType, Data: data})
	}
	return attachments, nil
}
