package opencv

import (
	"fmt"

	"github.com/book-expert/avatar-service/internal/fileutil"
	"gocv.io/x/gocv"
)

// PortraitWriter decodes uploaded images and stores them as JPEG. Uploads in any
// format OpenCV understands end up under the job's fixed .jpg input name.
type PortraitWriter struct{}

// NewPortraitWriter creates a PortraitWriter.
func NewPortraitWriter() *PortraitWriter {
	return &PortraitWriter{}
}

// WritePortrait decodes data and writes it to path, which should carry a .jpg extension.
func (p *PortraitWriter) WritePortrait(data []byte, path string) error {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadImage, err)
	}
	defer img.Close()

	if img.Empty() {
		return fmt.Errorf("%w: upload is not a decodable image", ErrReadImage)
	}

	err = fileutil.EnsureParentDir(path)
	if err != nil {
		return err
	}

	partial := fileutil.PartialPath(path)
	if !gocv.IMWrite(partial, img) {
		return fmt.Errorf("%w: %s", ErrWriteImage, partial)
	}

	return fileutil.Commit(partial, path)
}
