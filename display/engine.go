package display

import (
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/MagiusCHE/staminal-sub000/errors"
	"github.com/MagiusCHE/staminal-sub000/pinned"
)

// Event kinds the engine emits.
const (
	KindOpened pinned.EventKind = "opened"
	KindClosed pinned.EventKind = "closed"
	KindClick  pinned.EventKind = "click"
)

// Commands accepted by the engine through the proxy.
type (
	// OpenWindow creates a window at (X, Y). Width and Height are the
	// interior size, excluding the border.
	OpenWindow struct {
		ID     string
		Title  string
		X      int
		Y      int
		Width  int
		Height int
	}

	// CloseWindow removes a window.
	CloseWindow struct {
		ID string
	}

	// DrawText writes text into a window's interior at (X, Y),
	// clipped to the window bounds.
	DrawText struct {
		WindowID string
		X        int
		Y        int
		Text     string
	}

	// Render composes and returns the full frame.
	Render struct{}

	// Input is a pointer press in frame coordinates. The topmost
	// window containing the point receives a click event; the reply
	// carries the hit window's ID, or "" on a miss.
	Input struct {
		X int
		Y int
	}
)

// Click is the payload of a click event.
type Click struct {
	// Coordinates relative to the window interior.
	X int
	Y int
}

// Window is one open window. Content holds the interior cells.
type Window struct {
	ID      string
	Title   string
	X       int
	Y       int
	Width   int
	Height  int
	Content [][]rune

	z int
}

func (w *Window) contains(x, y int) bool {
	// Border and title cells count as part of the window, so the
	// rendered footprint is Width+2 by Height+3.
	return x >= w.X && x < w.X+w.Width+2 && y >= w.Y && y < w.Y+w.Height+3
}

var windowStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder())

// Engine is a terminal display backend implementing pinned.Engine.
// Command handling runs on the proxy's designated thread; the window
// table is still lock-guarded because Windows and Frame serve
// host-side queries from other goroutines.
type Engine struct {
	log *zap.Logger

	mu      sync.RWMutex
	windows map[string]*Window
	zTop    int

	emit func(pinned.Event)
	subs map[subPair]bool
}

type subPair struct {
	subject string
	kind    pinned.EventKind
}

// NewEngine creates a display engine. It holds no terminal state until
// Start.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:     log,
		windows: make(map[string]*Window),
		subs:    make(map[subPair]bool),
	}
}

func (e *Engine) Start(emit func(pinned.Event)) error {
	e.emit = emit
	e.log.Debug("display engine started")
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	e.windows = make(map[string]*Window)
	e.mu.Unlock()
	e.log.Debug("display engine stopped")
	return nil
}

// Subscribe and Unsubscribe maintain the engine-side listener set. The
// proxy calls them only on 0 -> 1 and 1 -> 0 listener transitions, so
// membership here means "someone is listening".
func (e *Engine) Subscribe(subject string, kind pinned.EventKind) error {
	e.subs[subPair{subject, kind}] = true
	return nil
}

func (e *Engine) Unsubscribe(subject string, kind pinned.EventKind) error {
	delete(e.subs, subPair{subject, kind})
	return nil
}

// publish emits only when a listener registered for the pair, sparing
// the event channel from traffic nobody reads.
func (e *Engine) publish(subject string, kind pinned.EventKind, payload any) {
	if e.emit == nil || !e.subs[subPair{subject, kind}] {
		return
	}
	e.emit(pinned.Event{Subject: subject, Kind: kind, Payload: payload})
}

func (e *Engine) Handle(payload any) (any, error) {
	switch cmd := payload.(type) {
	case OpenWindow:
		return nil, e.openWindow(cmd)
	case CloseWindow:
		return nil, e.closeWindow(cmd.ID)
	case DrawText:
		return nil, e.drawText(cmd)
	case Render:
		return e.Frame(), nil
	case Input:
		return e.input(cmd.X, cmd.Y), nil
	default:
		return nil, errors.InvalidInput(errors.PhaseProxy, "unknown display command")
	}
}

func (e *Engine) openWindow(cmd OpenWindow) error {
	if cmd.ID == "" || cmd.Width <= 0 || cmd.Height <= 0 {
		return errors.InvalidInput(errors.PhaseProxy, "window needs id and positive size")
	}

	e.mu.Lock()
	if _, ok := e.windows[cmd.ID]; ok {
		e.mu.Unlock()
		return errors.New(errors.PhaseProxy, errors.KindDuplicateMod).
			Name(cmd.ID).Detail("window already open").Build()
	}
	content := make([][]rune, cmd.Height)
	for i := range content {
		content[i] = []rune(strings.Repeat(" ", cmd.Width))
	}
	e.zTop++
	e.windows[cmd.ID] = &Window{
		ID: cmd.ID, Title: cmd.Title,
		X: cmd.X, Y: cmd.Y, Width: cmd.Width, Height: cmd.Height,
		Content: content, z: e.zTop,
	}
	e.mu.Unlock()

	e.log.Debug("window opened", zap.String("id", cmd.ID))
	e.publish(cmd.ID, KindOpened, nil)
	return nil
}

func (e *Engine) closeWindow(id string) error {
	e.mu.Lock()
	if _, ok := e.windows[id]; !ok {
		e.mu.Unlock()
		return errors.NotFound(errors.PhaseProxy, "window", id)
	}
	delete(e.windows, id)
	e.mu.Unlock()

	e.log.Debug("window closed", zap.String("id", id))
	e.publish(id, KindClosed, nil)
	return nil
}

func (e *Engine) drawText(cmd DrawText) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[cmd.WindowID]
	if !ok {
		return errors.NotFound(errors.PhaseProxy, "window", cmd.WindowID)
	}
	if cmd.Y < 0 || cmd.Y >= w.Height {
		return nil
	}
	x := cmd.X
	for _, r := range cmd.Text {
		if x >= w.Width {
			break
		}
		if x >= 0 {
			w.Content[cmd.Y][x] = r
		}
		x++
	}
	return nil
}

// input hit-tests the point against the window table, topmost first,
// and reports the hit window's ID.
func (e *Engine) input(x, y int) string {
	e.mu.RLock()
	var hit *Window
	for _, w := range e.windows {
		if w.contains(x, y) && (hit == nil || w.z > hit.z) {
			hit = w
		}
	}
	e.mu.RUnlock()

	if hit == nil {
		return ""
	}
	e.publish(hit.ID, KindClick, Click{X: x - hit.X - 1, Y: y - hit.Y - 2})
	return hit.ID
}

// Windows reports the open window IDs, sorted.
func (e *Engine) Windows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.windows))
	for id := range e.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Frame composes all windows in z order onto a plain-text canvas and
// returns it. Windows opened later paint over earlier ones.
func (e *Engine) Frame() string {
	e.mu.RLock()
	wins := make([]*Window, 0, len(e.windows))
	maxX, maxY := 0, 0
	for _, w := range e.windows {
		wins = append(wins, w)
		if r := w.X + w.Width + 2; r > maxX {
			maxX = r
		}
		if b := w.Y + w.Height + 3; b > maxY {
			maxY = b
		}
	}
	e.mu.RUnlock()

	if len(wins) == 0 {
		return ""
	}
	sort.Slice(wins, func(i, j int) bool { return wins[i].z < wins[j].z })

	canvas := make([][]rune, maxY)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", maxX))
	}
	for _, w := range wins {
		blit(canvas, w.X, w.Y, renderWindow(w))
	}

	lines := make([]string, len(canvas))
	for i, row := range canvas {
		lines[i] = strings.TrimRight(string(row), " ")
	}
	return strings.Join(lines, "\n")
}

// renderWindow draws one window's chrome and content as plain lines.
// The style carries no colors, so the output is pure text and can be
// composed cell by cell.
func renderWindow(w *Window) []string {
	body := make([]string, 0, w.Height+1)
	title := truncateToWidth(w.Title, w.Width)
	body = append(body, title+strings.Repeat(" ", w.Width-lipgloss.Width(title)))
	for _, row := range w.Content {
		body = append(body, string(row))
	}
	boxed := windowStyle.Width(w.Width).Render(strings.Join(body, "\n"))
	return strings.Split(boxed, "\n")
}

// truncateToWidth cuts s to at most max display cells. Wide runes
// count their full cell width, so truncation and padding agree and a
// CJK or emoji title can never overflow its window.
func truncateToWidth(s string, max int) string {
	if lipgloss.Width(s) <= max {
		return s
	}
	var b strings.Builder
	width := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if width+rw > max {
			break
		}
		b.WriteRune(r)
		width += rw
	}
	return b.String()
}

func blit(canvas [][]rune, x, y int, lines []string) {
	for dy, line := range lines {
		row := y + dy
		if row < 0 || row >= len(canvas) {
			continue
		}
		for dx, r := range []rune(line) {
			col := x + dx
			if col < 0 || col >= len(canvas[row]) {
				continue
			}
			canvas[row][col] = r
		}
	}
}
