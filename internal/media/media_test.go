package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestIsImage(t *testing.T) {
	tests := map[string]bool{
		"IMG_0001.JPG":       true,
		"shot.cr3":           true,
		"room.webp":          true,
		"._IMG_0001.JPG":     false,
		".DS_Store":          false,
		"Thumbs.db":          false,
		"notes.txt":          false,
		"/a/b/c/product.png": true,
	}
	for name, want := range tests {
		if got := IsImage(name); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCollectImagesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.jpg", "a.jpg", "b.PNG", ".hidden.jpg", "readme.txt", "desktop.ini"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	imgs, err := CollectImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, img := range imgs {
		names = append(names, img.Name)
	}
	want := []string{"a.jpg", "b.PNG", "c.jpg"}
	if len(names) != len(want) {
		t.Fatalf("got %q, want %q", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if TotalSize(imgs) != 3 {
		t.Errorf("TotalSize = %d, want 3", TotalSize(imgs))
	}
	if p := Paths(imgs); p[0] != filepath.Join(dir, "a.jpg") {
		t.Errorf("Paths()[0] = %q", p[0])
	}
}

func TestCollectImagesMissingDir(t *testing.T) {
	if _, err := CollectImages(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestThumbnailScalesDown(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for x := 0; x < 800; x++ {
		src.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	thumb, err := Thumbnail(path, 320, 320)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 160 {
		t.Errorf("thumbnail %dx%d, want 320x160", cfg.Width, cfg.Height)
	}

	meta := ReadShotInfo(path)
	if meta.Width != 800 || meta.Height != 400 {
		t.Errorf("meta %dx%d, want 800x400", meta.Width, meta.Height)
	}
}

func TestThumbnailUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.cr3")
	_ = os.WriteFile(path, []byte("raw"), 0o644)
	thumb, err := Thumbnail(path, 100, 100)
	if err != nil || thumb != nil {
		t.Errorf("got %v, %v; want nil, nil", thumb, err)
	}
}

// exifOrientation is an APP1 segment holding a single IFD0 entry:
// Orientation (0x0112, SHORT) = 6.
var exifOrientation = []byte{
	0xFF, 0xE1, 0x00, 0x22,
	'E', 'x', 'i', 'f', 0x00, 0x00,
	'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
	0x01, 0x00,
	0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// writeRotatedJPEG writes a w x h JPEG tagged as shot with the camera turned
// right, so it displays as h x w.
func writeRotatedJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	out := append([]byte{}, raw[:2]...) // SOI
	out = append(out, exifOrientation...)
	out = append(out, raw[2:]...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRotatedShotReportsDisplaySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IMG_0001.JPG")
	writeRotatedJPEG(t, path, 800, 400)

	info := ReadShotInfo(path)
	if info.Orientation != 6 {
		t.Fatalf("orientation = %d, want 6", info.Orientation)
	}
	if info.Width != 400 || info.Height != 800 {
		t.Errorf("display size %dx%d, want 400x800", info.Width, info.Height)
	}
	if !info.Previewable {
		t.Error("jpeg not previewable")
	}

	thumb, err := Thumbnail(path, 320, 320)
	if err != nil || thumb == nil {
		t.Fatalf("thumbnail: %v, %v", thumb, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 160 || cfg.Height != 320 {
		t.Errorf("thumbnail %dx%d, want 160x320", cfg.Width, cfg.Height)
	}
}

func TestOrient(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	// 2x1: red on the left, blue on the right.
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	tests := []struct {
		o          int
		w, h       int
		at00, last color.RGBA // pixel (0,0) and the far corner
	}{
		{1, 2, 1, red, blue},
		{2, 2, 1, blue, red},
		{3, 2, 1, blue, red},
		{6, 1, 2, red, blue},
		{8, 1, 2, blue, red},
	}
	for _, tt := range tests {
		got := orient(src, tt.o)
		b := got.Bounds()
		if b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("orientation %d: %dx%d, want %dx%d", tt.o, b.Dx(), b.Dy(), tt.w, tt.h)
			continue
		}
		if c := color.RGBAModel.Convert(got.At(0, 0)); c != tt.at00 {
			t.Errorf("orientation %d: (0,0) = %v, want %v", tt.o, c, tt.at00)
		}
		if c := color.RGBAModel.Convert(got.At(b.Max.X-1, b.Max.Y-1)); c != tt.last {
			t.Errorf("orientation %d: far corner = %v, want %v", tt.o, c, tt.last)
		}
	}
}

func TestCameraName(t *testing.T) {
	tests := []struct{ mk, model, want string }{
		{"Canon", "Canon EOS R5", "Canon EOS R5"},
		{"NIKON CORPORATION", "NIKON Z 7", "NIKON Z 7"},
		{"SONY", "ILCE-7RM4", "SONY ILCE-7RM4"},
		{"", "ILCE-7RM4", "ILCE-7RM4"},
		{"Apple", "", "Apple"},
	}
	for _, tt := range tests {
		if got := cameraName(tt.mk, tt.model); got != tt.want {
			t.Errorf("cameraName(%q, %q) = %q, want %q", tt.mk, tt.model, got, tt.want)
		}
	}
}
