package media

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/webp"
)

// ShotInfo is what an operator sees per file when reviewing a folder: the
// shot as it will display, when it was taken and on which body. Sessions
// are ordered by TakenAt; Camera tells a stray phone shot from studio work.
type ShotInfo struct {
	// Width and Height are display dimensions, after EXIF orientation.
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	Camera      string     `json:"camera,omitempty"`
	Previewable bool       `json:"previewable"`
}

// ReadShotInfo reads dimensions and EXIF from the file at path. Fields that
// cannot be read are left zero.
func ReadShotInfo(path string) ShotInfo {
	info := ShotInfo{Previewable: Previewable(path)}

	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return info
	}
	x, err := exif.Decode(f)
	if err != nil {
		return info
	}

	info.Orientation = orientationOf(x)
	if swapsAxes(info.Orientation) {
		info.Width, info.Height = info.Height, info.Width
	}
	if t, err := x.DateTime(); err == nil {
		info.TakenAt = &t
	}
	info.Camera = cameraName(exifString(x, exif.Make), exifString(x, exif.Model))
	return info
}

// readOrientation returns the EXIF orientation of the file at path, or 0.
func readOrientation(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		return 0
	}
	return orientationOf(x)
}

func orientationOf(x *exif.Exif) int {
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 0
	}
	return v
}

// swapsAxes reports whether orientation o turns the image on its side.
func swapsAxes(o int) bool {
	return o >= 5 && o <= 8
}

// orient returns src transformed so it displays upright for EXIF
// orientation o. Orientations 0 and 1 return src unchanged.
func orient(src image.Image, o int) image.Image {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	// s2d maps source to destination coordinates.
	var s2d f64.Aff3
	switch o {
	case 2: // mirrored
		s2d = f64.Aff3{-1, 0, w, 0, 1, 0}
	case 3: // upside down
		s2d = f64.Aff3{-1, 0, w, 0, -1, h}
	case 4: // upside down, mirrored
		s2d = f64.Aff3{1, 0, 0, 0, -1, h}
	case 5: // transposed
		s2d = f64.Aff3{0, 1, 0, 1, 0, 0}
	case 6: // camera turned right; rotate clockwise
		s2d = f64.Aff3{0, -1, h, 1, 0, 0}
	case 7: // transverse
		s2d = f64.Aff3{0, -1, h, -1, 0, w}
	case 8: // camera turned left; rotate counter-clockwise
		s2d = f64.Aff3{0, 1, 0, -1, 0, w}
	default:
		return src
	}
	// Translate the source origin to zero first.
	s2d[2] -= s2d[0]*float64(b.Min.X) + s2d[1]*float64(b.Min.Y)
	s2d[5] -= s2d[3]*float64(b.Min.X) + s2d[4]*float64(b.Min.Y)

	dw, dh := b.Dx(), b.Dy()
	if swapsAxes(o) {
		dw, dh = dh, dw
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.NearestNeighbor.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}

// cameraName joins make and model, dropping the make when the model already
// carries it ("Canon" + "Canon EOS R5", "NIKON CORPORATION" + "NIKON Z 7").
func cameraName(mk, model string) string {
	switch {
	case model == "":
		return mk
	case mk == "":
		return model
	}
	brand, _, _ := strings.Cut(mk, " ")
	if strings.HasPrefix(strings.ToLower(model), strings.ToLower(brand)) {
		return model
	}
	return mk + " " + model
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}
