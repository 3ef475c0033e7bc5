package matting

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kikiluvv/videomatte/internal/video"
)

// The onnxruntime environment is process global. Engines are opened per job
// and per preview, so it is initialised on first use and destroyed when the
// last engine closes.
var ortEnv struct {
	sync.Mutex
	refs int
}

func acquireRuntime(libraryPath string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()

	if ortEnv.refs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	ortEnv.refs++
	return nil
}

func releaseRuntime() error {
	ortEnv.Lock()
	defer ortEnv.Unlock()

	if ortEnv.refs == 0 {
		return nil
	}
	ortEnv.refs--
	if ortEnv.refs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ONNXEngine runs a portrait matting network (MODNet layout: one NCHW float
// image in, one [1,1,H,W] matte out).
type ONNXEngine struct {
	logger  zerolog.Logger
	opts    Options
	session *ort.DynamicAdvancedSession

	closeOnce sync.Once
	closeErr  error
}

// NewONNXEngine loads opts.ModelPath. The returned engine holds a reference
// on the shared runtime until Close.
func NewONNXEngine(opts Options, logger zerolog.Logger) (*ONNXEngine, error) {
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("%w: invalid model input size %dx%d", ErrSegmentation, opts.InputWidth, opts.InputHeight)
	}
	if err := acquireRuntime(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}

	sess, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		nil,
	)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("%w: failed to create matting session: %v", ErrSegmentation, err)
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Int("input_width", opts.InputWidth).
		Int("input_height", opts.InputHeight).
		Msg("matting model loaded")

	return &ONNXEngine{
		logger:  logger.With().Str("engine", "onnx").Logger(),
		opts:    opts,
		session: sess,
	}, nil
}

// Infer runs the network on f and scales the matte back to the frame size.
func (e *ONNXEngine) Infer(ctx context.Context, f *video.Frame) (*AlphaMask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Image == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrSegmentation)
	}
	start := time.Now()

	w, h := e.opts.InputWidth, e.opts.InputHeight
	data := tensorData(f.Image, w, h, e.opts.Mean, e.opts.Std)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", ErrSegmentation, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(h), int64(w)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output tensor: %v", ErrSegmentation, err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrSegmentation, f.Index, err)
	}

	mask, err := matteToMask(output.GetData(), w, h, f.Width(), f.Height())
	if err != nil {
		return nil, err
	}

	e.logger.Trace().
		Int("frame", f.Index).
		Dur("infer", time.Since(start)).
		Msg("frame matted")
	return mask, nil
}

// Close releases the session and this engine's runtime reference.
func (e *ONNXEngine) Close() error {
	e.closeOnce.Do(func() {
		if e.session != nil {
			e.closeErr = e.session.Destroy()
		}
		if err := releaseRuntime(); err != nil && e.closeErr == nil {
			e.closeErr = err
		}
	})
	return e.closeErr
}

// tensorData resizes img to w×h and lays it out as normalised NCHW float32.
func tensorData(img *image.NRGBA, w, h int, mean, std [3]float32) []float32 {
	var src image.Image = img
	if img.Rect.Dx() != w || img.Rect.Dy() != h {
		src = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	}

	plane := w * h
	data := make([]float32, 3*plane)
	b := src.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgbAt(src, b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			data[i] = (r - mean[0]) / std[0]
			data[plane+i] = (g - mean[1]) / std[1]
			data[2*plane+i] = (bl - mean[2]) / std[2]
		}
	}
	return data
}

func rgbAt(img image.Image, x, y int) (r, g, b float32) {
	if n, ok := img.(*image.NRGBA); ok {
		p := n.Pix[n.PixOffset(x, y):]
		return float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255
	}
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return float32(cr) / 65535, float32(cg) / 65535, float32(cb) / 65535
}

// matteToMask clamps a model-sized matte and upsamples it to the frame size.
func matteToMask(values []float32, mw, mh, fw, fh int) (*AlphaMask, error) {
	if len(values) != mw*mh {
		return nil, fmt.Errorf("%w: model returned %d values, want %d", ErrSegmentation, len(values), mw*mh)
	}

	if mw == fw && mh == fh {
		m := NewAlphaMask(fw, fh)
		for i, v := range values {
			m.Values[i] = clamp01(v)
		}
		return m, nil
	}

	gray := image.NewGray16(image.Rect(0, 0, mw, mh))
	for i, v := range values {
		q := uint16(clamp01(v)*65535 + 0.5)
		gray.Pix[2*i] = uint8(q >> 8)
		gray.Pix[2*i+1] = uint8(q)
	}

	scaled := resize.Resize(uint(fw), uint(fh), gray, resize.Bilinear)
	m := NewAlphaMask(fw, fh)
	b := scaled.Bounds()
	if g, ok := scaled.(*image.Gray16); ok {
		for y := 0; y < fh; y++ {
			for x := 0; x < fw; x++ {
				m.Values[y*fw+x] = float32(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535
			}
		}
		return m, nil
	}
	for y := 0; y < fh; y++ {
		for x := 0; x < fw; x++ {
			v, _, _, _ := scaled.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.Values[y*fw+x] = float32(v) / 65535
		}
	}
	return m, nil
}
