package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
	wrapIndent      = "    "
	ellipsis        = "…"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// prettyHandler is a compact key=value handler for local development.
// On a terminal it colours well-known keys and wraps long records.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	head := applyDim(ts.Format("15:04:05.000"), h.color) + " " +
		levelTag(r.Level, h.color) + " " +
		applyBold(r.Message, h.color)
	segs := []string{head}

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			segs = append(segs, "src="+applyDim(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), h.color))
		}
	}

	for _, a := range h.attrs {
		segs = h.appendAttr(segs, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, "")
		return true
	})

	var out string
	if h.color {
		out = strings.Join(wrapSegments(segs, " ", h.terminalWidth(), wrapIndent), "\n")
	} else {
		out = strings.Join(segs, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out+"\n")
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return segs
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segs
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, fullKey)
		}
		return segs
	}

	shown := fullKey
	if len(h.groups) > 0 {
		shown = strings.Join(h.groups, ".") + "." + fullKey
	}
	return append(segs, remapPrettyKey(shown)+"="+h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorize(strings.ToUpper(strings.TrimSpace(v.String())), methodColor(v.String()), h.color)
	case "path":
		return colorize(strings.TrimSpace(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorize(strconv.FormatInt(n, 10), statusColor(int(n)), h.color)
		}
	case "status_class", "class":
		s := strings.TrimSpace(v.String())
		if len(s) == 3 && s[0] >= '1' && s[0] <= '5' {
			return colorize(s, statusColor(int(s[0]-'0')*100), h.color)
		}
		return s
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			c := ansiGreen
			switch {
			case n >= 1000:
				c = ansiRed
			case n >= 250:
				c = ansiYellow
			}
			return colorize(strconv.FormatInt(n, 10)+"ms", c, h.color)
		}
	case "result":
		s := strings.ToLower(strings.TrimSpace(v.String()))
		c := ansiGreen
		switch s {
		case "client_error":
			c = ansiYellow
		case "server_error":
			c = ansiRed
		}
		return colorize(s, c, h.color)
	case "err":
		return colorize(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	}

	return quoteIfNeeded(valueToString(v))
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func methodColor(m string) string {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case "GET", "HEAD", "OPTIONS":
		return ansiBlue
	case "POST":
		return ansiGreen
	case "PUT", "PATCH":
		return ansiYellow
	case "DELETE":
		return ansiRed
	default:
		return ansiMagenta
	}
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > 1<<62 {
			return 0, false
		}
		return int64(u), true // #nosec G115 -- bounded above.
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return colorize("[ERROR]", ansiRed, color)
	case level >= slog.LevelWarn:
		return colorize("[WARN]", ansiYellow, color)
	case level < slog.LevelInfo:
		return colorize("[DEBUG]", ansiMagenta, color)
	default:
		return colorize("[INFO]", ansiBlue, color)
	}
}

func colorize(s, code string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func applyDim(s string, color bool) string  { return colorize(s, ansiDim, color) }
func applyBold(s string, color bool) string { return colorize(s, ansiBright, color) }

func stripANSI(s string) string { return ansiRe.ReplaceAllString(s, "") }

// visualLen is the number of runes printed for s once escape codes are removed.
func visualLen(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

// wrapSegments packs segments into lines no wider than width, joining them
// with sep and prefixing continuation lines with indent. A segment that cannot
// fit on a line of its own is truncated with an ellipsis. width <= 0 disables wrapping.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	if width <= 0 {
		return []string{strings.Join(segs, sep)}
	}

	var (
		lines []string
		cur   strings.Builder
		curW  int
	)
	for _, s := range segs {
		if cur.Len() == 0 {
			prefix := ""
			if len(lines) > 0 {
				prefix = indent
			}
			s = truncateVisual(s, width-visualLen(prefix))
			cur.WriteString(prefix + s)
			curW = visualLen(prefix) + visualLen(s)
			continue
		}

		w := visualLen(s)
		if curW+visualLen(sep)+w <= width {
			cur.WriteString(sep + s)
			curW += visualLen(sep) + w
			continue
		}

		lines = append(lines, cur.String())
		cur.Reset()
		s = truncateVisual(s, width-visualLen(indent))
		cur.WriteString(indent + s)
		curW = visualLen(indent) + visualLen(s)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// truncateVisual shortens s to at most width runes, ending with an ellipsis.
// Colour is dropped from truncated segments.
func truncateVisual(s string, width int) string {
	if width <= 0 || visualLen(s) <= width {
		return s
	}
	plain := []rune(stripANSI(s))
	return string(plain[:width-1]) + ellipsis
}

// terminalWidth returns BLOG_LOG_WIDTH, then COLUMNS, then the size of the
// attached terminal. Values below 40 are ignored; the fallback is 100.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"BLOG_LOG_WIDTH", "COLUMNS"} {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n >= minLogWidth {
			return n
		}
	}
	if f, ok := h.w.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w >= minLogWidth { // #nosec G115 -- fd fits in int.
			return w
		}
	}
	return defaultLogWidth
}
