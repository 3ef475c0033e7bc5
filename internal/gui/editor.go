package gui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/videomatte/internal/composite"
	"github.com/kikiluvv/videomatte/internal/pipeline"
	"github.com/kikiluvv/videomatte/internal/video"
	"github.com/kikiluvv/videomatte/pkg/util"
)

const (
	modeOriginal = "Original"
	modeColor    = "Color"
)

var videoExtensions = []string{".mp4", ".mov", ".mkv", ".avi", ".webm"}

// Editor is the single-window front-end. All fields are touched on the fyne
// thread only; pipeline callbacks hop back onto it with fyne.Do.
type Editor struct {
	coord  *pipeline.Coordinator
	logger zerolog.Logger
	window fyne.Window

	source  string
	asset   video.Asset
	mode    string
	bgColor color.NRGBA
	job     *pipeline.Job

	sourceLabel *widget.Label
	percent     *widget.Label
	eta         *widget.Label
	bar         *widget.ProgressBar
	original    *canvas.Image
	cutout      *canvas.Image
	swatch      *canvas.Image
	radio       *widget.RadioGroup
	pickButton  *widget.Button
	openButton  *widget.Button
	saveButton  *widget.Button
	cancelBtn   *widget.Button
}

// Run opens the editor window and blocks until it is closed.
func Run(coord *pipeline.Coordinator, logger zerolog.Logger) {
	a := app.NewWithID("com.kikiluvv.videomatte")
	w := a.NewWindow("videomatte")
	w.Resize(fyne.NewSize(1000, 560))

	e := newEditor(coord, w, logger)
	w.SetContent(e.layout())
	w.SetCloseIntercept(func() {
		if e.job != nil {
			e.job.Cancel()
		}
		w.Close()
	})
	w.ShowAndRun()
}

func newEditor(coord *pipeline.Coordinator, w fyne.Window, logger zerolog.Logger) *Editor {
	e := &Editor{
		coord:   coord,
		logger:  logger.With().Str("component", "gui").Logger(),
		window:  w,
		mode:    modeOriginal,
		bgColor: composite.Presets()["green"],
	}

	e.sourceLabel = widget.NewLabel("No video loaded")
	e.percent = widget.NewLabel("")
	e.eta = widget.NewLabel("")
	e.bar = widget.NewProgressBar()

	e.original = newPreviewImage()
	e.cutout = newPreviewImage()
	e.swatch = newPreviewImage()

	e.radio = widget.NewRadioGroup([]string{modeOriginal, modeColor}, e.setMode)
	e.radio.Horizontal = true
	e.radio.SetSelected(modeOriginal)

	e.pickButton = widget.NewButton("Pick color...", e.pickColor)
	e.openButton = widget.NewButton("Select video...", e.selectVideo)
	e.saveButton = widget.NewButton("Save as...", e.saveAs)
	e.cancelBtn = widget.NewButton("Cancel", e.cancelJob)

	e.reset()
	return e
}

func newPreviewImage() *canvas.Image {
	img := canvas.NewImageFromImage(nil)
	img.FillMode = canvas.ImageFillContain
	img.SetMinSize(fyne.NewSize(448, 252))
	return img
}

func (e *Editor) layout() fyne.CanvasObject {
	previews := container.NewGridWithColumns(2,
		container.NewBorder(widget.NewLabel("Original"), nil, nil, nil, e.original),
		container.NewBorder(widget.NewLabel("Result"), nil, nil, nil,
			container.NewStack(e.swatch, e.cutout)),
	)
	controls := container.NewHBox(e.openButton, e.radio, e.pickButton, e.saveButton, e.cancelBtn)
	status := container.NewBorder(nil, nil, nil, container.NewHBox(e.percent, e.eta), e.bar)

	return container.NewBorder(
		container.NewVBox(e.sourceLabel, controls),
		status, nil, nil,
		previews,
	)
}

func (e *Editor) selectVideo() {
	fd := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, e.window)
			return
		}
		if r == nil {
			return
		}
		path := r.URI().Path()
		r.Close()
		e.load(path)
	}, e.window)
	fd.SetFilter(storage.NewExtensionFileFilter(videoExtensions))
	fd.Show()
}

// load probes path and computes the first-frame previews in the background.
func (e *Editor) load(path string) {
	e.sourceLabel.SetText("Loading " + filepath.Base(path) + "...")
	e.saveButton.Disable()

	go func() {
		ctx := context.Background()
		asset, _, err := e.coord.Inspect(ctx, path)
		if err != nil {
			fyne.Do(func() {
				e.sourceLabel.SetText("No video loaded")
				e.showFailure(err)
			})
			return
		}

		fyne.Do(func() {
			e.source = path
			e.asset = asset
			e.sourceLabel.SetText(describeAsset(asset))
			e.saveButton.Enable()
			e.refreshSwatch()
		})

		original, err := e.coord.FirstFrame(ctx, path)
		if err != nil {
			e.logger.Warn().Err(err).Msg("first frame failed")
			fyne.Do(func() { e.showFailure(err) })
			return
		}
		fyne.Do(func() {
			e.setImage(e.original, original)
			e.refreshSwatch()
		})

		cut, err := e.coord.RemoveBackground(ctx, original)
		if err != nil {
			e.logger.Warn().Err(err).Msg("cutout preview failed")
			fyne.Do(func() { e.showFailure(err) })
			return
		}
		fyne.Do(func() { e.setImage(e.cutout, cut) })
	}()
}

func (e *Editor) setImage(c *canvas.Image, img image.Image) {
	c.Image = img
	c.Refresh()
}

func (e *Editor) setMode(mode string) {
	e.mode = mode
	if e.pickButton != nil {
		if mode == modeColor {
			e.pickButton.Enable()
		} else {
			e.pickButton.Disable()
		}
	}
	e.refreshSwatch()
}

func (e *Editor) pickColor() {
	picker := dialog.NewColorPicker("Background", "Choose a background color", func(c color.Color) {
		e.bgColor = color.NRGBAModel.Convert(c).(color.NRGBA)
		e.refreshSwatch()
	}, e.window)
	picker.Advanced = true
	picker.SetColor(e.bgColor)
	picker.Show()
}

// refreshSwatch draws the background under the cutout at the frame's size.
func (e *Editor) refreshSwatch() {
	if e.swatch == nil || e.asset.Width == 0 {
		return
	}
	switch e.mode {
	case modeColor:
		e.setImage(e.swatch, composite.ColorImage(e.bgColor, e.asset.Width, e.asset.Height))
	default:
		e.setImage(e.swatch, e.original.Image)
	}
}

func (e *Editor) background() composite.BackgroundSpec {
	return backgroundFor(e.mode, e.bgColor)
}

func (e *Editor) saveAs() {
	if e.source == "" || e.job != nil {
		return
	}

	fd := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, e.window)
			return
		}
		if w == nil {
			return
		}
		dest := w.URI().Path()
		// the dialog creates an empty file; the sink writes its own
		w.Close()
		os.Remove(dest)

		if advisories := video.Advisories(e.asset); len(advisories) > 0 {
			dialog.ShowConfirm("Large video", strings.Join(advisories, "\n"), func(ok bool) {
				if ok {
					e.start(dest)
				}
			}, e.window)
			return
		}
		e.start(dest)
	}, e.window)
	fd.SetFileName(suggestOutputName(e.source))
	if ext := filepath.Ext(e.source); ext != "" {
		fd.SetFilter(storage.NewExtensionFileFilter([]string{ext}))
	}
	fd.Show()
}

func (e *Editor) start(dest string) {
	req := pipeline.Request{
		Source:      e.source,
		Destination: dest,
		Background:  e.background(),
	}
	cb := pipeline.Callbacks{
		OnProgress: func(p pipeline.ProgressState) {
			fyne.Do(func() { e.showProgress(p) })
		},
		OnComplete: func(r pipeline.Result) {
			fyne.Do(func() { e.complete(r) })
		},
	}

	job, err := e.coord.ProcessVideo(context.Background(), req, cb)
	if err != nil {
		e.showFailure(err)
		return
	}
	e.job = job
	e.saveButton.Disable()
	e.openButton.Disable()
	e.cancelBtn.Enable()
	e.percent.SetText(util.FormatPercent(0))
}

func (e *Editor) showProgress(p pipeline.ProgressState) {
	if e.job == nil {
		return
	}
	e.bar.SetValue(p.Fraction)
	e.percent.SetText(p.Percent())
	e.eta.SetText(p.ETAString())
}

func (e *Editor) cancelJob() {
	if e.job != nil {
		e.job.Cancel()
		e.cancelBtn.Disable()
	}
}

func (e *Editor) complete(r pipeline.Result) {
	e.job = nil
	e.reset()

	switch r.State {
	case pipeline.StateCompleted:
		dialog.ShowInformation("Done", "Saved to "+r.Output, e.window)
	case pipeline.StateCancelled:
		dialog.ShowInformation("Cancelled", r.Message, e.window)
	default:
		e.showFailure(r.Err)
	}
}

// reset puts the controls back into the idle state.
func (e *Editor) reset() {
	e.bar.SetValue(0)
	e.percent.SetText("")
	e.eta.SetText("")
	e.cancelBtn.Disable()
	e.openButton.Enable()
	if e.source != "" {
		e.saveButton.Enable()
	} else {
		e.saveButton.Disable()
	}
	e.setMode(e.mode)
}

func (e *Editor) showFailure(err error) {
	if err == nil {
		return
	}
	dialog.ShowError(errors.New(pipeline.Describe(err)), e.window)
}

func backgroundFor(mode string, c color.NRGBA) composite.BackgroundSpec {
	if mode == modeColor {
		return composite.SolidColor(c)
	}
	return composite.None()
}

func suggestOutputName(source string) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".mp4"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_nobg" + ext
}

func describeAsset(a video.Asset) string {
	return filepath.Base(a.Path) + "  " + a.Resolution().String() + "  " + util.FormatDuration(a.Duration)
}
