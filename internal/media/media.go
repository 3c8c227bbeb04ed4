// Package media identifies product photos on the studio drive and renders
// previews of them.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true,
	// Camera raw formats the studio shoots alongside JPEGs.
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true, ".dng": true,
}

// OS and indexer droppings that are never product photos.
var metadataFiles = map[string]bool{
	"thumbs.db":                 true,
	"desktop.ini":               true,
	"icon\r":                    true,
	"@eadir":                    true,
	"#recycle":                  true,
	"$recycle.bin":              true,
	"system volume information": true,
}

// IsHidden reports whether a directory entry name is hidden or OS metadata.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".") || metadataFiles[strings.ToLower(name)]
}

// IsImage reports whether path has an allow-listed image extension and is not
// a hidden or metadata file.
func IsImage(path string) bool {
	base := filepath.Base(path)
	if IsHidden(base) {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(base))]
}

// Image is one collected photo.
type Image struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// CollectImages lists the image files directly inside dir, sorted by name.
func CollectImages(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var out []Image
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsImage(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info, typically a temp file mid-copy.
			continue
		}
		out = append(out, Image{
			Path: filepath.Join(dir, entry.Name()),
			Name: entry.Name(),
			Size: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Paths returns the paths of imgs in order.
func Paths(imgs []Image) []string {
	out := make([]string, len(imgs))
	for i, img := range imgs {
		out[i] = img.Path
	}
	return out
}

// TotalSize sums the sizes of imgs.
func TotalSize(imgs []Image) uint64 {
	var n uint64
	for _, img := range imgs {
		n += uint64(img.Size)
	}
	return n
}

// ContentType returns the MIME content type for the file based on its extension.
// Returns "application/octet-stream" for unknown types.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// Previewable reports whether Thumbnail can render path. Raw, HEIC and TIFF
// have no pure-Go decoder.
func Previewable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// Thumbnail renders the image at path as a JPEG (quality 75) that fits within
// width x height, upright according to its EXIF orientation. It returns
// nil, nil for files that are not Previewable or do not decode.
func Thumbnail(path string, width, height int) ([]byte, error) {
	if !Previewable(path) {
		return nil, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	o := readOrientation(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := decodeImage(ext, f)
	if err != nil {
		// Treat decode errors as "can't thumbnail" rather than hard errors;
		// the file may still be copying.
		return nil, nil
	}

	// Resize first, against the box as it will be after rotation.
	if swapsAxes(o) {
		width, height = height, width
	}
	thumb := orient(resizeFit(src, width, height), o)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeImage decodes an image from r using the decoder appropriate for ext.
func decodeImage(ext string, r io.Reader) (image.Image, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return jpeg.Decode(r)
	case ".png":
		return png.Decode(r)
	case ".gif":
		return gif.Decode(r)
	case ".webp":
		return webp.Decode(r)
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}

// resizeFit scales src to fit within the dstW x dstH bounding box,
// preserving the aspect ratio, using BiLinear interpolation. Images that
// already fit are returned as-is.
func resizeFit(src image.Image, dstW, dstH int) image.Image {
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return src
	}
	scale := min(float64(dstW)/float64(b.Dx()), float64(dstH)/float64(b.Dy()))
	if scale >= 1.0 {
		return src
	}
	newW := max(int(float64(b.Dx())*scale), 1)
	newH := max(int(float64(b.Dy())*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
