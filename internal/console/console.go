// Package console surfaces stream notifications and redirects on a terminal.
package console

import (
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"membersonly-live/internal/logging"
)

var (
	noticeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	redirectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	timeStyle     = lipgloss.NewStyle().Faint(true)
)

// Console writes one line per notification or redirect. It is safe for
// concurrent use.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	renderer   *lipgloss.Renderer
	logger     *logging.Logger
	now        func() time.Time
	onRedirect func(target string)
}

// New returns a console writing to out. Colors are used only when out is a
// terminal that supports them.
func New(out io.Writer, logger *logging.Logger, onRedirect func(target string)) *Console {
	if logger == nil {
		panic("console.New: logger must not be nil")
	}
	return &Console{
		out:        out,
		renderer:   lipgloss.NewRenderer(out, termenv.WithColorCache(true)),
		logger:     logger,
		now:        time.Now,
		onRedirect: onRedirect,
	}
}

func (c *Console) Notify(message string) {
	c.logger.Info("notification", logging.Field("message", message))
	c.writeLine(noticeStyle, "notice", message)
}

// Redirect reports the page the user is sent to. The forum client would
// navigate there; here the target ends the run through onRedirect.
func (c *Console) Redirect(path string, reason string) {
	target := RedirectTarget(path, reason)
	c.logger.Warn("redirecting", logging.Field("target", target))
	c.writeLine(redirectStyle, "redirect", target)
	if c.onRedirect != nil {
		c.onRedirect(target)
	}
}

// RedirectTarget joins path and an optional reason query value.
func RedirectTarget(path string, reason string) string {
	if path == "" {
		path = "/"
	}
	if reason == "" {
		return path
	}
	return path + "?" + url.Values{"reason": []string{reason}}.Encode()
}

func (c *Console) writeLine(style lipgloss.Style, label string, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.renderer.NewStyle().Inherit(timeStyle).Render(c.now().Format("15:04:05"))
	badge := c.renderer.NewStyle().Inherit(style).Render(fmt.Sprintf("[%s]", label))
	if _, err := fmt.Fprintf(c.out, "%s %s %s\n", stamp, badge, message); err != nil {
		c.logger.Debug("console write failed", logging.Field("error", err))
	}
}
