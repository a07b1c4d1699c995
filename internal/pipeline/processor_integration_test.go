package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/nanoimg/internal/nano"
)

func TestLocalProcessor_FileInOptimizeFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(newOptimizer(t), outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Options:    nano.HighCompression(),
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	wantPath := filepath.Join(outputDir, "job-local-1", "optimized.png")
	if result.Output.Path != wantPath {
		t.Fatalf("expected output path %s, got %s", wantPath, result.Output.Path)
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("expected source bytes %d, got %d", len(srcBytes), result.SourceBytes)
	}
	if result.Output.Width != 240 || result.Output.Height != 120 {
		t.Fatalf("unexpected output dimensions %dx%d", result.Output.Width, result.Output.Height)
	}
	if result.Output.Channels != 3 {
		t.Fatalf("expected 3 channels after alpha stripping, got %d", result.Output.Channels)
	}

	written, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read optimized image: %v", err)
	}
	if len(written) != result.Output.Bytes {
		t.Fatalf("expected %d bytes on disk, got %d", result.Output.Bytes, len(written))
	}
	verifyImageSize(t, written, 240, 120)

	jobOut := result.JobOutput()
	if jobOut.InputBytes != len(srcBytes) || jobOut.OutputBytes != len(written) {
		t.Fatalf("unexpected job output sizes: %+v", jobOut)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(newOptimizer(t), t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Options:    nano.DefaultConfig(),
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestLocalProcessor_InvalidConfigFailsOptimizeStage(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 8, 8), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(newOptimizer(t), filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	cfg := nano.DefaultConfig()
	cfg.ColorTolerance = 0
	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-bad-config",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Options:    cfg,
	})
	if !errors.Is(err, nano.ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "out", "job-bad-config")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output dir for failed job, stat err=%v", statErr)
	}
}

func TestObjectStoreStages_RoundTrip(t *testing.T) {
	storage := newMemoryObjectStorage()
	storage.objects[SourceObjectKey("job/42")] = buildTestPNG(t, 16, 4)

	processor, err := NewProcessor(
		ObjectStoreFetcher{Storage: storage},
		newOptimizer(t),
		ObjectStoreEmitter{Storage: storage},
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job/42",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  SourceObjectKey("job/42"),
		Options:    nano.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if result.Output.Path != "outputs/job_42/optimized.png" {
		t.Fatalf("unexpected output key %s", result.Output.Path)
	}
	if storage.contentTypes[result.Output.Path] != "image/png" {
		t.Fatalf("expected image/png content type, got %q", storage.contentTypes[result.Output.Path])
	}
	verifyImageSize(t, storage.objects[result.Output.Path], 16, 4)
}

func TestObjectStoreFetcher_RejectsLocalSource(t *testing.T) {
	_, err := ObjectStoreFetcher{Storage: newMemoryObjectStorage()}.Fetch(context.Background(), Request{
		JobID:      "job-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "/tmp/input.png",
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestSanitizePathToken(t *testing.T) {
	cases := map[string]string{
		"":            "unknown",
		"  job-1  ":   "job-1",
		"../etc":      "___etc",
		"job_2/x y":   "job_2_x_y",
		"ABC-def_123": "ABC-def_123",
	}
	for in, want := range cases {
		if got := sanitizePathToken(in); got != want {
			t.Fatalf("sanitizePathToken(%q) = %q, want %q", in, got, want)
		}
	}
}

type memoryObjectStorage struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjectStorage() *memoryObjectStorage {
	return &memoryObjectStorage{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *memoryObjectStorage) ReadObject(_ context.Context, objectKey string) ([]byte, error) {
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memoryObjectStorage) WriteObject(_ context.Context, objectKey string, data []byte, contentType string) error {
	m.objects[objectKey] = append([]byte(nil), data...)
	m.contentTypes[objectKey] = contentType
	return nil
}

func newOptimizer(t testing.TB) *nano.Optimizer {
	t.Helper()

	optimizer, err := nano.NewDefaultOptimizer()
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}
	return optimizer
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, data []byte, wantW, wantH int) {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode optimized image: %v", err)
	}
	if got := img.Bounds(); got.Dx() != wantW || got.Dy() != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, got.Dx(), got.Dy())
	}
}
