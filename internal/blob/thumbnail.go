package blob

import (
	"bytes"
	"image"
	"image/png"
	"log"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// Thumbnails are generated only for sources wider than the threshold, and
// scaled to fit the max bounds.
const (
	thumbWidthThreshold = 100
	thumbMaxWidth       = 120
	thumbMaxHeight      = 800
)

// writeThumbnailAsync decodes src, and if its width exceeds the threshold,
// scales it to fit within thumbMaxWidth x thumbMaxHeight and persists it
// under thumbs/ alongside the full-size image. Failures are logged, never
// propagated; the full-size write already succeeded and this is
// best-effort.
func (s *Store) writeThumbnailAsync(gid groupchat.GroupID, name string, src []byte) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		log.Printf("blob: thumbnail decode %s/%s: %v", gid, name, err)
		return
	}

	bounds := img.Bounds()
	if bounds.Dx() <= thumbWidthThreshold {
		return
	}

	thumb := scaleToFit(img, thumbMaxWidth, thumbMaxHeight)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		log.Printf("blob: thumbnail encode %s/%s: %v", gid, name, err)
		return
	}

	path, err := s.path(gid, dirThumbs, name)
	if err != nil {
		log.Printf("blob: thumbnail path %s/%s: %v", gid, name, err)
		return
	}
	if err := write(path, buf.Bytes()); err != nil {
		log.Printf("blob: thumbnail write %s/%s: %v", gid, name, err)
	}
}

// scaleToFit resizes src so both dimensions fit within maxW x maxH,
// preserving aspect ratio, using golang.org/x/image/draw's high-quality
// CatmullRom scaler.
func scaleToFit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return src
	}

	scale := float64(maxW) / float64(sw)
	if hScale := float64(maxH) / float64(sh); hScale < scale {
		scale = hScale
	}
	if scale >= 1 {
		return src
	}

	dw := int(float64(sw) * scale)
	dh := int(float64(sh) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
