package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"golang.org/x/image/draw"
)

// Manager shows frames in an X11 preview window
type Manager struct {
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext
	format  pixmapFormat
	width   int
	height  int
	running bool
	mu      sync.Mutex

	// Reused letterbox canvas
	canvas *image.RGBA
}

// pixmapFormat describes the server's ZPixmap layout for the root depth
type pixmapFormat struct {
	depth        byte
	bitsPerPixel int
	scanlinePad  int
	maxRequest   int // bytes
}

// NewManager creates a preview window manager. The X connection is made on
// Start.
func NewManager(width, height int) (*Manager, error) {
	if width <= 0 || height <= 0 || width > 0xFFFF || height > 0xFFFF {
		return nil, fmt.Errorf("invalid display size %dx%d", width, height)
	}
	return &Manager{
		width:  width,
		height: height,
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Start connects to the X server and maps the preview window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("display already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	format, err := findFormat(setup, screen.RootDepth)
	if err != nil {
		conn.Close()
		return err
	}

	window, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		window,
		screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	m.conn = conn
	m.screen = screen
	m.window = window
	m.format = format

	log := logger.WithComponent("display")
	if err := m.setProperty("_NET_WM_NAME", "UTF8_STRING", "feedview"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setProperty("WM_CLASS", "STRING", "feedview\x00Feedview\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(conn, window).Check(); err != nil {
		m.teardown()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		m.teardown()
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(window), 0, nil).Check(); err != nil {
		m.teardown()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.gc = gc
	conn.Sync()

	m.running = true
	log.Info().
		Int("width", m.width).
		Int("height", m.height).
		Uint32("window_id", uint32(window)).
		Msg("Preview window created")
	return nil
}

func findFormat(setup *xproto.SetupInfo, depth byte) (pixmapFormat, error) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return pixmapFormat{
				depth:        depth,
				bitsPerPixel: int(f.BitsPerPixel),
				scanlinePad:  int(f.ScanlinePad),
				maxRequest:   int(setup.MaximumRequestLength) * 4,
			}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// Stop closes the preview window and the X connection
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.teardown()
	m.running = false
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

func (m *Manager) teardown() {
	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
		m.gc = 0
	}
	if m.window != 0 {
		xproto.DestroyWindow(m.conn, m.window)
		m.window = 0
	}
	m.conn.Sync()
	m.conn.Close()
}

// Name returns the output type name
func (m *Manager) Name() string {
	return "X11 Preview Window"
}

// IsRunning returns whether the window is shown
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// WriteFrame letterboxes the frame into the window
func (m *Manager) WriteFrame(frame image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}
	drainEvents(m.conn.PollForEvent)

	Letterbox(m.canvas, frame)

	data, stride, err := packZPixmap(m.canvas, m.format)
	if err != nil {
		return err
	}
	return m.putImage(data, stride)
}

// drainEvents empties the connection's event queue and returns how many
// entries it removed. Every frame repaints the whole window, so expose and
// configure events need no handling; errors from unchecked requests are logged.
func drainEvents(poll func() (xgb.Event, xgb.Error)) int {
	n := 0
	for {
		ev, xerr := poll()
		if ev == nil && xerr == nil {
			return n
		}
		if xerr != nil {
			logger.WithComponent("display").Debug().Str("error", xerr.Error()).Msg("X request failed")
		}
		n++
	}
}

// Letterbox scales src to fit dst preserving aspect ratio, centred on black
func Letterbox(dst *image.RGBA, src image.Image) {
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	r := FitRect(src.Bounds().Size(), dst.Bounds().Size())
	if r.Empty() {
		return
	}
	draw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
}

// FitRect returns the largest rectangle with src's aspect ratio that fits
// inside a box of size dst, centred in it
func FitRect(src, dst image.Point) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 || dst.X <= 0 || dst.Y <= 0 {
		return image.Rectangle{}
	}
	w, h := dst.X, src.Y*dst.X/src.X
	if h > dst.Y {
		w, h = src.X*dst.Y/src.Y, dst.Y
	}
	x := (dst.X - w) / 2
	y := (dst.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// packZPixmap converts RGBA pixels to the server's BGRx ZPixmap layout with
// scanline padding
func packZPixmap(img *image.RGBA, f pixmapFormat) ([]byte, int, error) {
	bytesPerPixel := f.bitsPerPixel / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bits per pixel: %d", f.bitsPerPixel)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	padBytes := f.scanlinePad / 8
	if padBytes == 0 {
		padBytes = 1
	}
	stride := (width*bytesPerPixel + padBytes - 1) / padBytes * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+width*4]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*bytesPerPixel:]
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if bytesPerPixel == 4 && f.depth == 32 {
				d[3] = s[3]
			}
		}
	}
	return data, stride, nil
}

// putImage sends the packed canvas in row strips that fit the server's
// maximum request length
func (m *Manager) putImage(data []byte, stride int) error {
	const header = 24
	rows := m.height
	if m.format.maxRequest > header {
		if fit := (m.format.maxRequest - header) / stride; fit < rows {
			rows = fit
		}
	}
	if rows <= 0 {
		return fmt.Errorf("a single scanline exceeds the X request limit")
	}

	for y := 0; y < m.height; y += rows {
		n := rows
		if y+n > m.height {
			n = m.height - y
		}
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.window),
			m.gc,
			uint16(m.width),
			uint16(n),
			0, int16(y),
			0,
			m.format.depth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// setProperty sets a window property to a string value
func (m *Manager) setProperty(name, typ, value string) error {
	prop, err := m.getAtom(name)
	if err != nil {
		return err
	}
	typeAtom, err := m.getAtom(typ)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.window,
		prop,
		typeAtom,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

// getAtom gets an atom ID by name
func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
